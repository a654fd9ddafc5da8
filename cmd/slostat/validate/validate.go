package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rpeltola/slostat/internal/slo"
)

var dir string

var Cmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate SLO definition files",
	Long: `Check every definition file in a directory against the definition
schema plus the semantic rules the schema cannot express (type-specific
fields, duplicate identities across files).`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory containing SLO definition files")
	Cmd.MarkFlagRequired("dir")
}

func run(cmd *cobra.Command, args []string) error {
	validator, err := slo.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	errs := validator.ValidateDirectory(dir)
	if len(errs) == 0 {
		fmt.Println("all definition files are valid")
		return nil
	}

	sort.Slice(errs, func(i, j int) bool {
		if errs[i].File != errs[j].File {
			return errs[i].File < errs[j].File
		}
		return errs[i].Path < errs[j].Path
	})

	for _, e := range errs {
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", filepath.Base(e.File), e.Path, e.Message)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", filepath.Base(e.File), e.Message)
		}
	}

	return fmt.Errorf("validation failed with %d error(s)", len(errs))
}
