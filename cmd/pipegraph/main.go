package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipegraph/pkg/pipeline/stages"
	"github.com/ravi-parthasarathy/pipegraph/pkg/resource"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:   "pipegraph",
		Short: "pipegraph: declarative stage-graph runner",
		Long: `pipegraph compiles a YAML pipeline document into a graph of stages and
runs input values through it.

A document names its stages (walk, read, print, ...) and declares how they
are wired: chains, scoped sub-graphs with fan-out, and the reserved
references default, exit, exitparent and null.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initLogger(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(runCmd())
	root.AddCommand(lintCmd())
	root.AddCommand(graphCmd())
	return root
}

// initLogger installs the default slog logger on stderr.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// ─── run ──────────────────────────────────────────────────────────────────────

type runOptions struct {
	workdir     string
	output      string
	metricsAddr string
	watch       bool
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml> [input]",
		Short: "Run a value through a pipeline",
		Long: `Run compiles the pipeline and feeds input (default "./", the working
directory) into its root. With --watch, every file written or created under
the input directory afterwards is fed through the pipeline again.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "./"
			if len(args) == 2 {
				input = args[1]
			}
			return executePipeline(signalContext(cmd.Context()), args[0], input, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.workdir, "workdir", ".", "root directory stages read from and write to")
	cmd.Flags().StringVar(&opts.output, "output", "", "write the run result as JSON to this file (optional)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090 (optional)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep running and re-run changed files")
	return cmd
}

func executePipeline(ctx context.Context, file, input string, opts runOptions, out io.Writer) error {
	fsys, err := resource.NewFS(opts.workdir)
	if err != nil {
		return err
	}
	doc, g, err := compileFile(file, fsys, out)
	if err != nil {
		return err
	}
	for _, le := range pipeline.Validate(g) {
		slog.Warn("pipeline lint", "node", le.NodeID, "problem", le.Message)
	}

	engineOpts := []pipeline.Option{}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := pipeline.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		engineOpts = append(engineOpts, pipeline.WithMetrics(m))
		stop := serveMetrics(opts.metricsAddr, reg)
		defer stop()
	}
	eng := pipeline.NewEngine(engineOpts...)

	slog.Info("pipeline compiled", "name", doc.Name, "nodes", len(g.Nodes()))
	result, err := eng.Run(ctx, g, input)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}
	if err := writeOutput(opts.output, result); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}
	return watchAndRun(ctx, eng, g, fsys, input)
}

// compileFile parses a pipeline document, builds its stages against fsys and
// compiles the declaration.
func compileFile(file string, fsys *resource.FS, out io.Writer) (*pipeline.Document, *pipeline.Graph, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, fmt.Errorf("read pipeline file: %w", err)
	}
	doc, err := pipeline.ParseDocument(src)
	if err != nil {
		return nil, nil, fmt.Errorf("parse pipeline: %w", err)
	}
	pool := pipeline.NewPool()
	if err := stages.Builtin().Populate(pool, doc.Stages, stages.Env{Provider: fsys, Out: out}); err != nil {
		return nil, nil, fmt.Errorf("build stages: %w", err)
	}
	g, err := pipeline.Compile(doc.Root, pool)
	if err != nil {
		return nil, nil, err
	}
	return doc, g, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// writeOutput writes the run result as indented JSON. An empty path is a no-op.
func writeOutput(path string, result any) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(outputValue(result), "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// outputValue replaces settled outcomes with their values, or an object
// carrying the error message for rejected elements.
func outputValue(v any) any {
	switch x := v.(type) {
	case pipeline.Settled:
		out := make([]any, len(x))
		for i, o := range x {
			if o.Rejected() {
				out[i] = map[string]any{"error": o.Err.Error()}
				continue
			}
			out[i] = outputValue(o.Value)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = outputValue(e)
		}
		return out
	}
	return v
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd() *cobra.Command {
	var workdir string

	cmd := &cobra.Command{
		Use:   "lint <pipeline.yaml>",
		Short: "Compile and validate a pipeline without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, err := resource.NewFS(workdir)
			if err != nil {
				return err
			}
			doc, g, err := compileFile(args[0], fsys, io.Discard)
			if err != nil {
				return err
			}
			if lintErr := pipeline.ValidateErr(g); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: pipeline %q is valid (%d nodes, %d stages)\n",
				doc.Name, len(g.Nodes()), len(doc.Stages))
			return nil
		},
	}
	cmd.Flags().StringVar(&workdir, "workdir", ".", "root directory stages read from and write to")
	return cmd
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[pipegraph] interrupted, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
