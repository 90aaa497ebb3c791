package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/metrics"
)

func newRedCmd() *cobra.Command {
	var (
		component string
		backend   string
		window    int
		prom      bool
	)

	cmd := &cobra.Command{
		Use:   "red",
		Short: "Print Rate/Errors/Duration metrics, or a Prometheus export",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if prom {
				exporter := metrics.NewPrometheusExporter(rt.container.Metrics, rt.reg)
				var buf bytes.Buffer
				if err := exporter.WritePrometheus(&buf); err != nil {
					return err
				}
				fmt.Print(buf.String())
				return nil
			}

			red, err := rt.recorder.RED(component, corereq.BackendID(backend), window)
			if err != nil {
				return err
			}
			fmt.Printf("component=%s backend=%q window=%dm\n", component, backend, window)
			fmt.Printf("  count=%d rate=%.3f/s errorRate=%.3f p50=%.1fms p95=%.1fms p99=%.1fms\n",
				red.Count, red.RatePerSec, red.ErrorRate, red.P50Ms, red.P95Ms, red.P99Ms)
			return nil
		},
	}

	cmd.Flags().StringVar(&component, "component", "fallback", "component name to query")
	cmd.Flags().StringVar(&backend, "backend", "", "backend id filter (empty = all backends)")
	cmd.Flags().IntVar(&window, "window", 60, "window size in minutes")
	cmd.Flags().BoolVar(&prom, "prometheus", false, "print a Prometheus text-format export instead")

	return cmd
}
