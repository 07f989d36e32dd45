package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/crmarques/portsync/config"
	"github.com/crmarques/portsync/gateway"
	httpgateway "github.com/crmarques/portsync/internal/gateway/http"
	"github.com/crmarques/portsync/internal/telemetry"
	"github.com/crmarques/portsync/orchestrator"
	"github.com/crmarques/portsync/reconciler"
	"github.com/crmarques/portsync/repository"
	"github.com/crmarques/portsync/resource"
)

var errReconcileFailed = errors.New("one or more resources failed to reconcile")

type syncFlags struct {
	files         string
	directory     string
	force         bool
	noPrompt      bool
	dryRun        bool
	prune         bool
	threshold     time.Duration
	concurrency   int
	metricsListen string
	trace         bool
}

type kindSpec struct {
	kind       gateway.Kind
	use        string
	short      string
	extensions []string
	load       func(path string) (gateway.Ref, resource.Declaration, error)
}

var kindSpecs = []kindSpec{
	{
		kind:       gateway.KindBlueprint,
		use:        "blueprint",
		short:      "Reconcile blueprint declarations",
		extensions: []string{".json"},
		load:       repository.LoadBlueprint,
	},
	{
		kind:       gateway.KindScorecard,
		use:        "scorecard",
		short:      "Reconcile scorecard declarations",
		extensions: []string{".json"},
		load:       repository.LoadScorecard,
	},
	{
		kind:       gateway.KindMapping,
		use:        "mapping",
		short:      "Reconcile integration mapping declarations",
		extensions: []string{".yaml", ".yml"},
		load:       repository.LoadMapping,
	},
}

func newSyncCommand(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: groupUserFacing,
		Short:   "Reconcile local declarations against the remote platform",
	}

	for _, spec := range kindSpecs {
		cmd.AddCommand(newSyncKindCommand(global, spec))
	}
	return cmd
}

func newSyncKindCommand(global *globalFlags, spec kindSpec) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Example: fmt.Sprintf(`  portsync sync %[1]s -d ./declarations
  portsync sync %[1]s -f one%[2]s,two%[2]s --dry-run`, spec.use, spec.extensions[0]),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, global, spec, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.files, "files", "f", "", "Comma-separated list of declaration files")
	cmd.Flags().StringVarP(&flags.directory, "directory", "d", "", "Directory containing declaration files")
	cmd.MarkFlagsOneRequired("files", "directory")
	cmd.MarkFlagsMutuallyExclusive("files", "directory")

	cmd.Flags().BoolVar(&flags.force, "force", false, "Overwrite even when the remote was modified recently")
	cmd.Flags().BoolVar(&flags.noPrompt, "no-prompt", false, "Skip confirmation prompts")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Show the change plan without applying it")
	cmd.Flags().BoolVar(&flags.prune, "prune", false, "Ask the platform to prune dependents not covered by the new definition")
	cmd.Flags().DurationVar(&flags.threshold, "threshold", 0, "Overwrite-protection window for recent remote edits (default 24h)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "Maximum resources reconciled in parallel")
	cmd.Flags().StringVar(&flags.metricsListen, "metrics-listen", "", "Expose prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&flags.trace, "trace", false, "Export reconcile spans over OTLP")

	return cmd
}

func runSync(cmd *cobra.Command, global *globalFlags, spec kindSpec, flags syncFlags) error {
	ctx := cmd.Context()
	log := newLogger(cmd.ErrOrStderr(), global.verbosity)

	catalog, err := config.LoadCatalog(config.CatalogPath(global.catalogFile))
	if err != nil {
		return err
	}
	runContext, err := catalog.Select(global.contextName)
	if err != nil {
		return err
	}
	config.ApplyEnvOverrides(&runContext)

	if flags.trace {
		shutdown, err := telemetry.InitTracing(ctx, "portsync", Version)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	if runContext.GitSource != nil {
		source := repository.NewGitSource(*runContext.GitSource)
		log.Info("syncing declarations repository", "dir", source.BaseDir())
		if err := source.Sync(ctx); err != nil {
			return err
		}
	}

	inputs, err := loadInputs(spec, flags)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		log.Info("no declaration files found, nothing to do")
		return nil
	}

	client := httpgateway.NewClient(&runContext.Gateway, log.WithName("gateway"))
	if err := client.Init(); err != nil {
		return err
	}
	defer client.Close()

	var metrics *orchestrator.Metrics
	if flags.metricsListen != "" {
		registry := prometheus.NewRegistry()
		metrics = orchestrator.NewMetrics(registry)
		go serveMetrics(flags.metricsListen, registry, log)
	}

	opts := orchestrator.Options{
		DryRun:         flags.dryRun,
		Force:          flags.force,
		Prompt:         !flags.noPrompt && !flags.dryRun && stdinIsTerminal(),
		Prune:          flags.prune,
		GuardThreshold: resolveThreshold(flags.threshold, runContext),
		Concurrency:    resolveConcurrency(flags.concurrency, runContext),
	}

	engine := &orchestrator.Orchestrator{
		Gateway:  client,
		Prompter: newHuhPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
		Renderer: reconciler.TextRenderer{},
		Log:      log,
		Metrics:  metrics,
	}

	log.Info("reconciling", "kind", spec.kind, "resources", len(inputs))
	outcomes := engine.Reconcile(ctx, inputs, opts)
	reportOutcomes(cmd, outcomes, flags.dryRun)

	if orchestrator.AggregateFailed(outcomes) {
		return errReconcileFailed
	}
	return nil
}

// loadInputs turns the selected files into orchestrator inputs. A file
// that fails to load still yields an input carrying the error, so the
// batch report covers it and the rest of the batch proceeds.
func loadInputs(spec kindSpec, flags syncFlags) ([]orchestrator.Input, error) {
	var paths []string
	if flags.files != "" {
		paths = []string{flags.files}
	} else {
		paths = []string{flags.directory}
	}

	files, err := repository.CollectFiles(paths, spec.extensions)
	if err != nil {
		return nil, err
	}

	inputs := make([]orchestrator.Input, 0, len(files))
	for _, file := range files {
		ref, declaration, err := spec.load(file)
		if err != nil {
			inputs = append(inputs, orchestrator.Input{
				Ref:         gateway.Ref{Kind: spec.kind, Identifier: filepath.Base(file)},
				Declaration: resource.Declaration{Source: file},
				LoadErr:     err,
			})
			continue
		}
		inputs = append(inputs, orchestrator.Input{Ref: ref, Declaration: declaration})
	}
	return inputs, nil
}

func resolveThreshold(flagValue time.Duration, runContext config.Context) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if runContext.GuardThresholdSeconds > 0 {
		return time.Duration(runContext.GuardThresholdSeconds) * time.Second
	}
	return reconciler.DefaultGuardThreshold
}

func resolveConcurrency(flagValue int, runContext config.Context) int {
	if flagValue > 0 {
		return flagValue
	}
	return runContext.Concurrency
}

func serveMetrics(address string, registry *prometheus.Registry, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error(err, "metrics listener stopped")
	}
}
