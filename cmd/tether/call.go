package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/tether"
	"github.com/luciancaetano/tether/ws"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <url> <type> [json data]",
	Short: "Send one message to a server and print the response data",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data json.RawMessage
		if len(args) == 3 {
			data = json.RawMessage(args[2])
			if !json.Valid(data) {
				return fmt.Errorf("data is not valid JSON: %s", args[2])
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		reply, err := call(ctx, args[0], args[1], data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(reply))
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVarP(&callTimeout, "timeout", "t", 5*time.Second, "time to wait for the response")
}

func call(ctx context.Context, url, msgType string, data json.RawMessage) (json.RawMessage, error) {
	peer, err := ws.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	defer peer.Close(context.Background())

	replies := make(chan json.RawMessage, 1)
	if _, err := peer.Send(ctx, msgType, data, func(msg *tether.Message) {
		replies <- msg.Data
	}); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-peer.Done():
		return nil, fmt.Errorf("connection closed before %s was answered", msgType)
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s response: %w", msgType, ctx.Err())
	}
}
