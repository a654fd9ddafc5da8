package evaluate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	"github.com/rpeltola/slostat/internal/slo"
)

var (
	dir         string
	samplesPath string
	service     string
	sloName     string
	atFlag      string
	shortWindow float64
	longWindow  float64
	asJSON      bool
)

var Cmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compute error budgets and burn rates from recorded samples",
	Long: `Evaluate SLO definitions against a JSON samples file without a
running server. The evaluation instant defaults to the newest sample
timestamp so historical recordings line up with their windows.`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing SLO definition files")
	Cmd.Flags().StringVarP(&samplesPath, "samples", "s", "", "JSON file with recorded samples")
	Cmd.Flags().StringVar(&service, "service", "", "only evaluate SLOs of this service")
	Cmd.Flags().StringVar(&sloName, "slo", "", "only evaluate the named SLO")
	Cmd.Flags().StringVar(&atFlag, "at", "", "evaluation instant (RFC3339, default: newest sample timestamp)")
	Cmd.Flags().Float64Var(&shortWindow, "short-window", 1, "short burn rate window in hours")
	Cmd.Flags().Float64Var(&longWindow, "long-window", 6, "long burn rate window in hours")
	Cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of text")
	Cmd.MarkFlagRequired("dir")
	Cmd.MarkFlagRequired("samples")
}

// Result pairs one definition with its evaluation outcome.
type Result struct {
	Definition slo.Definition     `json:"definition"`
	Budget     budget.ErrorBudget `json:"error_budget"`
	BurnRate   burnrate.BurnRate  `json:"burn_rate"`
}

func run(cmd *cobra.Command, args []string) error {
	defs, err := slo.LoadDefinitions(dir)
	if err != nil {
		return err
	}
	samples, err := slo.LoadSamples(samplesPath)
	if err != nil {
		return err
	}

	at, err := resolveAt(samples)
	if err != nil {
		return err
	}

	calc, err := budget.New(budget.DefaultConfig())
	if err != nil {
		return err
	}
	analyzer, err := burnrate.New(burnrate.DefaultConfig())
	if err != nil {
		return err
	}

	var results []Result
	for _, def := range defs {
		if service != "" && def.ServiceName != service {
			continue
		}
		if sloName != "" && def.Name != sloName {
			continue
		}

		scoped := scopeSamples(samples, def)
		bud, err := calc.Calculate(def, scoped, at)
		if err != nil {
			return fmt.Errorf("%s: %w", def.Key(), err)
		}
		rate, err := analyzer.MultiWindowAnalyze(def, scoped, shortWindow, longWindow, at)
		if err != nil {
			return fmt.Errorf("%s: %w", def.Key(), err)
		}
		results = append(results, Result{Definition: def, Budget: bud, BurnRate: rate})
	}

	if len(results) == 0 {
		return fmt.Errorf("no SLOs matched service=%q slo=%q", service, sloName)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(results, at)
	return nil
}

func resolveAt(samples []slo.Metric) (time.Time, error) {
	if atFlag != "" {
		at, err := time.Parse(time.RFC3339, atFlag)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at value %q: %w", atFlag, err)
		}
		return at, nil
	}
	if at := slo.LatestTimestamp(samples); !at.IsZero() {
		return at, nil
	}
	return time.Now().UTC(), nil
}

func scopeSamples(samples []slo.Metric, def slo.Definition) []slo.Metric {
	var scoped []slo.Metric
	for _, m := range samples {
		if m.ServiceName == def.ServiceName && m.Type == def.Type {
			scoped = append(scoped, m)
		}
	}
	return scoped
}

func printResults(results []Result, at time.Time) {
	fmt.Printf("evaluated at %s\n\n", at.Format(time.RFC3339))
	for _, res := range results {
		fmt.Println(res.Definition.Key())
		fmt.Printf("  target:          %.3f%% over %dd\n", res.Definition.Target, res.Definition.WindowDays)
		fmt.Printf("  current SLI:     %.3f%% (%d/%d events)\n",
			res.Budget.CurrentSLI, res.Budget.GoodEvents, res.Budget.TotalEvents)
		fmt.Printf("  budget consumed: %.1f%% [%s]\n", res.Budget.BudgetConsumedPercent, res.Budget.Status)
		fmt.Printf("  burn rate:       %.2f [%s]\n", res.BurnRate.Rate, res.BurnRate.AlertSeverity)
		if res.BurnRate.TimeToExhaustionHours != nil {
			fmt.Printf("  exhaustion in:   %.1fh\n", *res.BurnRate.TimeToExhaustionHours)
		}
		for _, rec := range res.BurnRate.Recommendations {
			fmt.Printf("  note: %s\n", rec)
		}
		fmt.Println()
	}
}
