package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/fanout"
)

func newFanoutCmd() *cobra.Command {
	var (
		backends    []string
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "fanout [prompt]",
		Short: "Dispatch one prompt to several backends concurrently and print the composite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ids := make([]corereq.BackendID, 0, len(backends))
			for _, b := range backends {
				ids = append(ids, corereq.BackendID(b))
			}

			base := corereq.Request{
				Prompt:        args[0],
				CorrelationID: uuid.NewString(),
				ProgressSink: func(chunk string) {
					fmt.Print(chunk)
				},
			}

			composite, err := rt.fanout.Run(context.Background(), ids, base, nil, nil, fanout.Config{MaxParallel: maxParallel})
			if err != nil {
				return err
			}

			fmt.Println()
			for _, r := range composite.Results {
				if r.Err != nil {
					fmt.Printf("[%s] ERROR: %v\n", r.BackendID, r.Err)
					continue
				}
				fmt.Printf("[%s] %s\n", r.BackendID, r.Output)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&backends, "backend", nil, "backend id to include (repeatable)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 3, "maximum concurrent backends")

	return cmd
}
