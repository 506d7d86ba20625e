// Package main provides the graphvault CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"graphvault/internal/config"
	"graphvault/internal/export"
	"graphvault/internal/ingest"
	"graphvault/internal/inputs"
	"graphvault/internal/logging"
	"graphvault/internal/metrics"
	"graphvault/internal/reader"
	"graphvault/internal/state"
	"graphvault/internal/store"
)

// Version is the current graphvault version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:           "graphvault",
	Short:         "graphvault - incremental code-graph ingestion into versioned storage",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var processCmd = &cobra.Command{
	Use:   "process <file|glob>...",
	Short: "Ingest graph exports, rewriting only partitions that changed",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProcess,
}

var statusCmd = &cobra.Command{
	Use:   "status [file]",
	Short: "Show recorded processing state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage stored graph versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored graph versions",
	Args:  cobra.NoArgs,
	RunE:  runVersionsList,
}

var versionsDeleteCmd = &cobra.Command{
	Use:   "delete <version>",
	Short: "Drop a version's collection and its processing state",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionsDelete,
}

// Flag values
var (
	configPath  string
	dataDir     string
	logLevel    string
	cleanFlag   bool
	versionFlag string
	outputFlag  string
	metricsFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for graph and state databases")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	processCmd.Flags().BoolVar(&cleanFlag, "clean", false, "Drop the version collection and rewrite every partition")
	processCmd.Flags().StringVar(&versionFlag, "version", "", "Graph version (default: from export metadata or path)")
	processCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text or json")
	processCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")

	statusCmd.Flags().StringVar(&versionFlag, "version", "", "Graph version (default: from export metadata or path)")
	statusCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text or json")

	versionsListCmd.Flags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text or json")

	versionsCmd.AddCommand(versionsListCmd, versionsDeleteCmd)
	rootCmd.AddCommand(processCmd, statusCmd, versionsCmd)
}

// app holds the opened stores for one command.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	graph   *store.DB
	states  state.Store
	metrics *metrics.Recorder
	proc    *ingest.Processor
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsFile != "" {
		cfg.MetricsFile = metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	graph, err := store.Open(cfg.GraphDBPath())
	if err != nil {
		return nil, err
	}
	states, err := state.Open(cfg.StateBackend, cfg.StateDBPath(), logger)
	if err != nil {
		graph.Close()
		return nil, err
	}

	rec := metrics.New()
	proc := ingest.New(reader.New(logger), states, graph, ingest.Config{
		Export: export.Config{
			BatchSize:     cfg.BatchSize,
			MaxWriteBytes: cfg.MaxWriteBytes,
		},
		DefaultVersion: cfg.DefaultVersion,
	}, logger, rec)

	return &app{cfg: cfg, logger: logger, graph: graph, states: states, metrics: rec, proc: proc}, nil
}

func (a *app) Close() {
	if err := a.states.Close(); err != nil {
		a.logger.WithError(err).Warn("closing state store")
	}
	if err := a.graph.Close(); err != nil {
		a.logger.WithError(err).Warn("closing graph store")
	}
}

func runProcess(cmd *cobra.Command, args []string) error {
	format, err := ingest.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	files, err := inputs.Expand(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no export files matched %v", args)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	opts := ingest.Options{Clean: cleanFlag, Version: versionFlag}

	var sums []*ingest.Summary
	failedFiles := 0
	for _, f := range files {
		sum, err := a.proc.Process(ctx, f, opts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.WithError(err).WithField("file", f).Error("processing failed")
			failedFiles++
			continue
		}
		if sum.HasFailures() {
			failedFiles++
		}
		sums = append(sums, sum)
	}

	if err := ingest.WriteSummaries(cmd.OutOrStdout(), sums, format); err != nil {
		return err
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.WithError(err).Warn("writing metrics file")
	}
	if failedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) did not process cleanly", failedFiles, len(files))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := ingest.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		st, err := a.proc.Status(ctx, args[0], versionFlag)
		if err != nil {
			return err
		}
		return ingest.WriteState(cmd.OutOrStdout(), st, format)
	}

	all, err := a.states.List(ctx)
	if err != nil {
		return err
	}
	if format == ingest.FormatJSON {
		if all == nil {
			all = []*state.ProcessingState{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	if len(all) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No exports processed yet")
		return nil
	}
	printed := 0
	for _, st := range all {
		if versionFlag != "" && st.Version != versionFlag {
			continue
		}
		if printed > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		printed++
		if err := ingest.WriteState(cmd.OutOrStdout(), st, format); err != nil {
			return err
		}
	}
	return nil
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	format, err := ingest.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.proc.ListVersions(cmd.Context())
	if err != nil {
		return err
	}

	if format == ingest.FormatJSON {
		if versions == nil {
			versions = []store.VersionInfo{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(versions)
	}
	if len(versions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No versions stored")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCOLLECTION\tNODES\tUPDATED")
	for _, v := range versions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", v.Version, v.Collection, v.NodeCount, v.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runVersionsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.proc.DeleteVersion(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted version %s (%d processing state records)\n", args[0], n)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
