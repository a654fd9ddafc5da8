package root

import (
	"github.com/spf13/cobra"

	"github.com/rpeltola/slostat/cmd/slostat/evaluate"
	"github.com/rpeltola/slostat/cmd/slostat/report"
	"github.com/rpeltola/slostat/cmd/slostat/validate"
)

var rootCmd = &cobra.Command{
	Use:   "slostat",
	Short: "SLO compliance toolkit",
	Long: `Slostat works with service level objectives offline: validate
definition files, compute error budgets and burn rates from recorded
samples, and render per-service compliance reports.`,
	Version: "0.3.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(validate.Cmd)
	rootCmd.AddCommand(evaluate.Cmd)
	rootCmd.AddCommand(report.Cmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SilenceUsage = true
}
