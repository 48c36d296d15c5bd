// Package cli provides the bioetl command surface: one subcommand per
// entity pipeline (activity, assay, document, target, testitem), all
// sharing the same configuration, logging and exit-code handling. The
// engine itself is invoked as a library; this package only translates
// flags and configuration into pipeline wiring.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/config"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

var (
	flagConfig  string
	flagInput   string
	flagOutput  string
	flagFormat  string
	flagRelease string
	flagLimit   int
	flagWorkers int
	flagDryRun  bool
	flagLog     string
)

var rootCmd = &cobra.Command{
	Use:   "bioetl",
	Short: "Bioactivity data acquisition ETL engine",
	Long: `bioetl harvests, normalizes, merges, validates and deterministically
materializes bio-chemical records from public web services (ChEMBL,
PubMed, Crossref, OpenAlex, Semantic Scholar, UniProt, IUPHAR, PubChem).

Each run produces a reproducible dataset artifact plus metadata and QC
sidecars under the configured output root.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagInput, "input", "", "input directory override (id CSVs)")
	rootCmd.PersistentFlags().StringVar(&flagOutput, "output", "", "output directory override")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "", "dataset format override: csv or parquet")
	rootCmd.PersistentFlags().StringVar(&flagRelease, "chembl-release", "", "ChEMBL release tag override (skips /status handshake)")
	rootCmd.PersistentFlags().IntVar(&flagLimit, "limit", 0, "cap on input ids processed")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "worker count override")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "run all stages against an empty extract")
	rootCmd.PersistentFlags().StringVar(&flagLog, "log-level", "", "log level override")

	for _, entity := range []string{"activity", "assay", "document", "target", "testitem"} {
		rootCmd.AddCommand(newEntityCmd(entity))
	}
}

func newEntityCmd(entity string) *cobra.Command {
	return &cobra.Command{
		Use:   entity,
		Short: fmt.Sprintf("Run the %s pipeline", entity),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, entity)
		},
	}
}

// loadConfig reads the configured YAML file (or the built-in defaults
// when none is given) and applies flag overrides on top.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.DefaultConfig()
		cfg = &def
	}

	if flagInput != "" {
		cfg.IO.Input.Dir = flagInput
	}
	if flagOutput != "" {
		cfg.IO.Output.Dir = flagOutput
	}
	if flagFormat != "" {
		if flagFormat != "csv" && flagFormat != "parquet" {
			return nil, &bioetlerrors.ConfigError{Path: "--format", Reason: "must be csv or parquet"}
		}
		cfg.IO.Output.Format = flagFormat
	}
	if flagRelease != "" {
		cfg.Pipeline.Release = flagRelease
	}
	if flagLimit > 0 {
		cfg.Runtime.Limit = flagLimit
	}
	if flagWorkers > 0 {
		cfg.Runtime.Workers = flagWorkers
	}
	if flagDryRun {
		cfg.Runtime.DryRun = true
	}
	if flagLog != "" {
		cfg.Logging.Level = flagLog
	}
	return cfg, nil
}

// Execute runs the root command and maps the resulting error onto the
// process exit code contract: 0 success, 1 internal, 2 configuration,
// 3 external API.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return int(bioetlerrors.ExitSuccess)
	}

	code := bioetlerrors.CodeOf(err)
	fields := logrus.Fields(common.ErrorFields(err, "bioetl run"))
	fields["error_code"] = int(code)
	fields["error_label"] = errorLabel(code)
	common.Logger.WithFields(fields).Error(err.Error())
	return int(code)
}

func errorLabel(code bioetlerrors.ExitCode) string {
	switch code {
	case bioetlerrors.ExitConfig:
		return "config_error"
	case bioetlerrors.ExitExternalAPI:
		return "external_api_error"
	default:
		return "internal_error"
	}
}
