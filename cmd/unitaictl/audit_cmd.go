package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Tail recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			entries, err := rt.container.Audit.Recent(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no audit entries recorded")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%d  %-10s  %-20s  approved=%-5v  outcome=%-8s  target=%s\n",
					e.TimestampMs, e.AutonomyLevel, e.Operation, e.Approved, e.Outcome, e.Target)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries to show")
	return cmd
}
