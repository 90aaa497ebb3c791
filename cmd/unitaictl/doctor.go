package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report backend registry, circuit state, and configuration",
		Long: `Lists every registered backend, its current circuit-breaker state, and
the resolved role/fallback configuration, in the style of a health check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Println()
			fmt.Println("unitai orchestration core — doctor")
			fmt.Println("===================================")
			fmt.Println()

			fmt.Println("Registered backends:")
			for _, d := range rt.reg.All() {
				state := rt.breaker.State(d.ID)
				fmt.Printf("  %-16s command=%-12s fileMode=%-14s circuit=%s\n", d.ID, d.CommandName, d.FileMode, state)
			}
			fmt.Println()

			fmt.Println("Roles:")
			fmt.Printf("  architect   -> %s\n", rt.resolver.RoleBackend("architect"))
			fmt.Printf("  implementer -> %s\n", rt.resolver.RoleBackend("implementer"))
			fmt.Printf("  tester      -> %s\n", rt.resolver.RoleBackend("tester"))
			fmt.Println()

			fmt.Println("Fallback priority:")
			for i, id := range rt.resolver.FallbackPriority() {
				fmt.Printf("  %d. %s\n", i+1, id)
			}
			fmt.Println()

			return nil
		},
	}
	return cmd
}
