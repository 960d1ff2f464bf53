package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/svcreg/internal/config"
	"github.com/zjrosen/svcreg/internal/tracing"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and write svcreg configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration as YAML: defaults, overlaid by the
config file, overlaid by SVCREG_* environment variables and flags.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented default config file",
	Long: `Write a commented default config file. The path defaults to
.svcreg/config.yaml in the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := localConfig
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var (
	tracingEnable   bool
	tracingDisable  bool
	tracingExporter string
	tracingFile     string
	tracingEndpoint string
	tracingRate     float64
)

var configTracingCmd = &cobra.Command{
	Use:   "tracing",
	Short: "Update the tracing section of the config file",
	Long: `Update the tracing section of the config file in place, keeping the
rest of the file and its comments.

Examples:
  svcreg config tracing --enable --exporter stdout
  svcreg config tracing --enable --exporter otlp --endpoint jaeger.internal:4317 --sample-rate 0.1
  svcreg config tracing --disable`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tracingEnable && tracingDisable {
			return fmt.Errorf("--enable and --disable are mutually exclusive")
		}

		tc := cfg.Tracing
		flags := cmd.Flags()
		if tracingEnable {
			tc.Enabled = true
		}
		if tracingDisable {
			tc.Enabled = false
		}
		if flags.Changed("exporter") {
			tc.Exporter = tracingExporter
		}
		if flags.Changed("file") {
			tc.FilePath = tracingFile
		}
		if flags.Changed("endpoint") {
			tc.OTLPEndpoint = tracingEndpoint
		}
		if flags.Changed("sample-rate") {
			tc.SampleRate = tracingRate
		}
		if err := config.ValidateTracing(tc); err != nil {
			return err
		}

		path := configPathForWrite()
		if err := config.SaveTracing(path, tc); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "updated tracing in %s\n", path)
		return nil
	},
}

// configPathForWrite is the loaded config file, or the local default.
func configPathForWrite() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Clean(used)
	}
	return localConfig
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")

	configTracingCmd.Flags().BoolVar(&tracingEnable, "enable", false, "turn tracing on")
	configTracingCmd.Flags().BoolVar(&tracingDisable, "disable", false, "turn tracing off")
	configTracingCmd.Flags().StringVar(&tracingExporter, "exporter", "",
		fmt.Sprintf("export backend: %s, %s, %s or %s",
			tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP))
	configTracingCmd.Flags().StringVar(&tracingFile, "file", "", "JSONL output file for the file exporter")
	configTracingCmd.Flags().StringVar(&tracingEndpoint, "endpoint", "", "collector address for the otlp exporter")
	configTracingCmd.Flags().Float64Var(&tracingRate, "sample-rate", 1.0, "fraction of traces kept")

	configCmd.AddCommand(configShowCmd, configInitCmd, configTracingCmd)
	rootCmd.AddCommand(configCmd)
}
