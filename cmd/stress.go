package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/svcreg/internal/registry"
	"github.com/zjrosen/svcreg/internal/stress"
)

// errViolations makes the process exit non-zero without printing usage.
var errViolations = errors.New("registry guarantees violated")

var (
	stressProducers int
	stressConsumers int
	stressOps       int
	stressRatio     float64
	stressSeed      uint64
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run a concurrent workload against a fresh registry",
	Long: `Run a concurrent publish/resolve/update/unregister workload against a
fresh registry store and verify its guarantees while it runs:

  - every publish stays resolvable until it is unregistered
  - unregistered registrations never resolve again
  - a registration never resolves under a type it was not published with

Defaults come from the stress section of the config file.

Examples:
  svcreg stress
  svcreg stress --producers 16 --consumers 32 --ops 10000
  svcreg stress --unregister-ratio 0.9 --seed 42 --debug --follow-log`,
	RunE: runStress,
}

func init() {
	stressCmd.Flags().IntVar(&stressProducers, "producers", 0, "goroutines publishing services (default from config)")
	stressCmd.Flags().IntVar(&stressConsumers, "consumers", 0, "goroutines resolving references (default from config)")
	stressCmd.Flags().IntVar(&stressOps, "ops", 0, "publishes per producer (default from config)")
	stressCmd.Flags().Float64Var(&stressRatio, "unregister-ratio", 0, "fraction of registrations withdrawn (default from config)")
	stressCmd.Flags().Uint64Var(&stressSeed, "seed", 0, "random seed (0 picks one)")
	rootCmd.AddCommand(stressCmd)
}

func runStress(cmd *cobra.Command, _ []string) error {
	opts := stress.Options{
		Producers:       cfg.Stress.Producers,
		Consumers:       cfg.Stress.Consumers,
		Ops:             cfg.Stress.Ops,
		UnregisterRatio: cfg.Stress.UnregisterRatio,
		Seed:            stressSeed,
		Tracer:          provider.Tracer(),
	}
	flags := cmd.Flags()
	if flags.Changed("producers") {
		opts.Producers = stressProducers
	}
	if flags.Changed("consumers") {
		opts.Consumers = stressConsumers
	}
	if flags.Changed("ops") {
		opts.Ops = stressOps
	}
	if flags.Changed("unregister-ratio") {
		opts.UnregisterRatio = stressRatio
	}

	store := registry.New(registry.WithTracer(provider.Tracer()))
	report, err := stress.Run(cmd.Context(), store, opts)
	if err != nil {
		return err
	}

	renderReport(cmd.OutOrStdout(), opts, report)
	if !report.OK() {
		return fmt.Errorf("%w: %d violation(s)", errViolations, len(report.Violations))
	}
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Width(16).Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	valueStyle = lipgloss.NewStyle().Bold(true)
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderReport(w io.Writer, opts stress.Options, r stress.Report) {
	row := func(label string, value any) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(fmt.Sprint(value)))
	}

	verdict := passStyle.Render("PASS")
	if !r.OK() {
		verdict = failStyle.Render(fmt.Sprintf("FAIL (%d)", len(r.Violations)))
	}

	rows := []string{
		titleStyle.Render("svcreg stress"),
		row("producers", opts.Producers),
		row("consumers", opts.Consumers),
		row("ops/producer", opts.Ops),
		"",
		row("published", r.Published),
		row("updated", r.Updated),
		row("unregistered", r.Unregistered),
		row("resolved", r.Resolved),
		row("misses", r.Misses),
		row("type probes", r.Mismatches),
		row("injected", r.Injected),
		row("activated", r.Activated),
		row("final size", r.FinalSize),
		row("duration", r.Duration.Round(time.Microsecond)),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("result"), verdict),
	}

	_, _ = fmt.Fprintln(w, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))

	if len(r.Violations) > 0 {
		var sb strings.Builder
		for _, v := range r.Violations {
			sb.WriteString(failStyle.Render("✗ "))
			sb.WriteString(v)
			sb.WriteByte('\n')
		}
		_, _ = io.WriteString(w, sb.String())
	}
}
