package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpeltola/slostat/internal/budget"
	"github.com/rpeltola/slostat/internal/burnrate"
	slreport "github.com/rpeltola/slostat/internal/report"
	"github.com/rpeltola/slostat/internal/slo"
	"github.com/rpeltola/slostat/internal/store"
)

var (
	dir         string
	samplesPath string
	service     string
	atFlag      string
	shortWindow float64
	longWindow  float64
	asJSON      bool
)

var Cmd = &cobra.Command{
	Use:   "report",
	Short: "Render per-service compliance reports",
	Long: `Build the compliance rollup for every service found in the
definitions, or for one service with --service. Samples come from a JSON
recording; the report period ends at the newest sample unless --at says
otherwise.`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing SLO definition files")
	Cmd.Flags().StringVarP(&samplesPath, "samples", "s", "", "JSON file with recorded samples")
	Cmd.Flags().StringVar(&service, "service", "", "report on a single service")
	Cmd.Flags().StringVar(&atFlag, "at", "", "report instant (RFC3339, default: newest sample timestamp)")
	Cmd.Flags().Float64Var(&shortWindow, "short-window", 1, "short burn rate window in hours")
	Cmd.Flags().Float64Var(&longWindow, "long-window", 6, "long burn rate window in hours")
	Cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of text")
	Cmd.MarkFlagRequired("dir")
	Cmd.MarkFlagRequired("samples")
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

	at := slo.LatestTimestamp(samples)
	if atFlag != "" {
		at, err = time.Parse(time.RFC3339, atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: %w", atFlag, err)
		}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	st := store.New()
	if err := st.RecordBatch(samples); err != nil {
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
	builder := slreport.NewBuilder(calc, analyzer)
	opts := slreport.Options{ShortWindowHours: shortWindow, LongWindowHours: longWindow}

	var reports []slreport.Report
	if service != "" {
		svcDefs := slo.GroupByService(defs)[service]
		if len(svcDefs) == 0 {
			return fmt.Errorf("no SLO definitions for service %q", service)
		}
		rep, err := builder.BuildForService(st, service, svcDefs, at, opts)
		if err != nil {
			return err
		}
		reports = []slreport.Report{rep}
	} else {
		reports, err = builder.Sweep(st, defs, at, opts)
		if err != nil {
			return err
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	printReports(reports)
	return nil
}

func printReports(reports []slreport.Report) {
	for _, rep := range reports {
		fmt.Printf("%s [%s]\n", rep.ServiceName, rep.OverallCompliance)
		fmt.Printf("  period: %s to %s\n",
			rep.PeriodStart.Format(time.RFC3339), rep.PeriodEnd.Format(time.RFC3339))
		fmt.Printf("  SLOs: %d total, %d compliant, %d at risk, %d breached (%.1f%% compliant)\n",
			rep.TotalSLOs, rep.SLOsCompliant, rep.SLOsAtRisk, rep.SLOsBreached, rep.CompliancePercentage)
		for _, alert := range rep.CriticalAlerts {
			fmt.Printf("  critical: %s\n", alert)
		}
		for _, warning := range rep.Warnings {
			fmt.Printf("  warning: %s\n", warning)
		}
		for _, rec := range rep.Recommendations {
			fmt.Printf("  note: %s\n", rec)
		}
		fmt.Println()
	}
}
