package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/grok-image-edit/internal/bootstrap"
	"github.com/fpang/grok-image-edit/internal/cli"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check connectivity to the Grok endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := bootstrap.Build(cmd.Context(), opts, metrics.Nop{})
		if err != nil {
			return err
		}
		defer app.Close()

		h, err := app.Service.HealthCheck(cmd.Context(), app.Options)
		for _, line := range h.Lines() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if err != nil {
			cli.HandleValidationError(err)
			return err
		}
		return nil
	},
}
