package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/unitai-dev/unitai-core/internal/corereq"
)

func newAskCmd() *cobra.Command {
	var (
		backend     string
		attachments []string
		autonomy    string
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Dispatch a single prompt through the fallback orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			level, _ := corereq.ParseAutonomyLevel(autonomy)
			req := corereq.Request{
				BackendID:     corereq.BackendID(backend),
				Prompt:        args[0],
				Attachments:   attachments,
				AutonomyLevel: level,
				CorrelationID: uuid.NewString(),
				ProgressSink: func(chunk string) {
					fmt.Print(chunk)
				},
			}

			outcome, err := rt.orchestrator.Execute(context.Background(), req)
			if err != nil {
				return err
			}

			fmt.Printf("\n\n--- final backend: %s (tried: %v) ---\n", outcome.FinalBackend, outcome.TriedBackends)
			fmt.Println(outcome.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "ask-gemini", "target backend id")
	cmd.Flags().StringArrayVar(&attachments, "file", nil, "attachment file path (repeatable)")
	cmd.Flags().StringVar(&autonomy, "autonomy", "read-only", "autonomy level (read-only|low|medium|high)")

	return cmd
}
