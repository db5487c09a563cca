package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/jittakal/dumpshard/internal/checkpoint"
	"github.com/jittakal/dumpshard/internal/classify"
	"github.com/jittakal/dumpshard/internal/compact"
	"github.com/jittakal/dumpshard/internal/config"
	"github.com/jittakal/dumpshard/internal/config/dto"
	"github.com/jittakal/dumpshard/internal/deadletter"
	"github.com/jittakal/dumpshard/internal/export"
	"github.com/jittakal/dumpshard/internal/observability"
	"github.com/jittakal/dumpshard/internal/pipeline"
	"github.com/jittakal/dumpshard/internal/retry"
	"github.com/jittakal/dumpshard/internal/server"
	"github.com/jittakal/dumpshard/internal/shard"
	"github.com/jittakal/dumpshard/internal/source"
	"github.com/jittakal/dumpshard/internal/storage"
	pkgcheckpoint "github.com/jittakal/dumpshard/pkg/checkpoint"
	"github.com/jittakal/dumpshard/pkg/record"
)

// app holds what every command needs: configuration, logger and metrics.
type app struct {
	cfg      *dto.ApplicationConfig
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	cleanups []func() error
}

// overrideFunc copies command-line flags into the loader.
type overrideFunc func(c *cli.Context, l *config.Loader)

// setup loads configuration with flag overrides applied and builds the
// shared components.
func setup(c *cli.Context, overrides overrideFunc) (*app, error) {
	loader := config.NewLoader()
	setString(c, loader, "log-level", "observability.logging.level")
	setString(c, loader, "output", "output.dir")
	if overrides != nil {
		overrides(c, loader)
	}

	cfg, err := loader.Load(config.ResolvePath(c.String("config")))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})

	registry := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		logger:   logger.With("command", c.Command.Name),
		registry: registry,
		metrics:  observability.NewMetrics(registry),
	}, nil
}

func (a *app) addCleanup(name string, fn func() error) {
	a.cleanups = append(a.cleanups, func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
	a.logger.Debug("registered cleanup", "component", name)
}

// close runs cleanups in reverse registration order.
func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			a.logger.Error("cleanup failed", "error", err)
		}
	}
	a.cleanups = nil
}

func (a *app) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    a.cfg.Retry.MaxAttempts,
		InitialBackoff: a.cfg.Retry.InitialBackoff(),
		MaxBackoff:     a.cfg.Retry.MaxBackoff(),
		Multiplier:     a.cfg.Retry.BackoffMultiplier,
	}
}

func (a *app) discoverOptions() source.DiscoverOptions {
	return source.DiscoverOptions{
		Recursive: a.cfg.Input.Recursive,
		Include:   a.cfg.Input.Include,
		Blacklist: a.cfg.Input.Blacklist,
		Reverse:   a.cfg.Input.Reverse,
	}
}

// stateFiles lists what organize itself writes, so that a run over the
// current directory never reads its own output back in.
func (a *app) stateFiles() []string {
	files := []string{a.cfg.Output.Dir}
	if a.cfg.Pipeline.Checkpointing {
		files = append(files, a.cfg.Checkpoint.Path)
	}
	if a.cfg.DeadLetter.Sink == deadletter.SinkFile {
		files = append(files, a.deadLetterPath())
	}
	return files
}

func (a *app) allowList() (classify.AllowList, error) {
	allow := classify.NewAllowList(a.cfg.Filter.Categories...)
	if a.cfg.Filter.AllowListPath == "" {
		return allow, nil
	}
	loaded, err := classify.LoadAllowList(a.cfg.Filter.AllowListPath)
	if err != nil {
		return nil, err
	}
	for name := range loaded {
		allow[name] = struct{}{}
	}
	return allow, nil
}

func (a *app) openStore() (pkgcheckpoint.Store, error) {
	store, err := checkpoint.New(checkpoint.Config{
		Backend: a.cfg.Checkpoint.Backend,
		Path:    a.cfg.Checkpoint.Path,
	}, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	a.addCleanup("checkpoint-store", store.Close)
	return store, nil
}

// startServer exposes health and metrics while checker runs.
func (a *app) startServer(checker server.HealthChecker) error {
	if !a.cfg.Observability.Metrics.Enabled {
		return nil
	}
	httpServer := server.NewServer(server.Config{
		HealthPort:  a.cfg.Observability.Health.Port,
		MetricsPort: a.cfg.Observability.Metrics.Port,
	}, checker, a.registry, a.logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.addCleanup("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})
	return nil
}

// organize runs the partition pipeline, then compaction and archiving when
// enabled. Both follow-up steps are skipped when the run did not complete.
func (a *app) organize(ctx context.Context) error {
	opts := a.discoverOptions()
	opts.Exclude = a.stateFiles()
	files, err := source.Discover(a.cfg.Input.Path, opts)
	if err != nil {
		return fmt.Errorf("failed to discover input files: %w", err)
	}
	if len(files) == 0 {
		a.logger.Warn("no input files found", "path", a.cfg.Input.Path)
		return nil
	}

	allow, err := a.allowList()
	if err != nil {
		return err
	}

	deadLetters, err := a.newDeadLetterHandler()
	if err != nil {
		return err
	}
	a.addCleanup("dead-letter", deadLetters.Close)

	writer, err := shard.NewWriter(shard.Config{
		OutputDir:      a.cfg.Output.Dir,
		FlushThreshold: a.cfg.Pipeline.FlushThresholdBytes,
		SyncOnFlush:    a.cfg.Pipeline.SyncOnFlush,
		MaxOpenFiles:   a.cfg.Pipeline.MaxOpenFiles,
		Retry:          a.retryConfig(),
	}, a.logger, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create shard writer: %w", err)
	}
	a.addCleanup("shard-writer", writer.Close)

	deps := pipeline.Deps{
		Classifier: classify.New(allow, a.logger, a.metrics),
		Writer:     writer,
		Open: source.NewOpener(source.Options{
			MaxLineBytes: a.cfg.Input.MaxLineBytes,
			Logger:       a.logger,
			Metrics:      a.metrics,
			OnReject:     deadLetters.Reject,
		}),
		Logger:  a.logger,
		Metrics: a.metrics,
	}
	if a.cfg.Pipeline.Checkpointing {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		deps.Store = store
	}

	progress := observability.NewProgress(observability.ProgressConfig{
		Mode:     a.cfg.Observability.Progress.Mode,
		Interval: a.cfg.Observability.Progress.Interval(),
		Output:   os.Stderr,
	}, a.logger)
	deps.Progress = progress

	coordinator, err := pipeline.New(pipeline.Config{
		Checkpointing: a.cfg.Pipeline.Checkpointing,
		BatchSize:     a.cfg.Pipeline.BatchSize,
		Producers:     a.cfg.Pipeline.Producers,
		Writers:       a.cfg.Pipeline.Writers,
		QueueSize:     a.cfg.Pipeline.QueueSize,
	}, deps)
	if err != nil {
		progress.Close()
		return err
	}
	if err := a.startServer(coordinator); err != nil {
		progress.Close()
		return err
	}

	report, err := coordinator.Run(ctx, files)
	progress.Close()
	if report != nil {
		a.logReport(report)
	}
	if err != nil {
		return err
	}

	if a.cfg.Compaction.Enabled {
		if _, err := a.compact(ctx); err != nil {
			return err
		}
		if a.cfg.Archive.Enabled {
			return a.archive(ctx)
		}
	}
	return nil
}

func (a *app) logReport(report *pipeline.Report) {
	totals := report.Totals()
	a.logger.Info("run summary",
		"run_id", report.RunID,
		"files", len(report.Files),
		"done", report.Count(pipeline.StateDone),
		"failed", report.Count(pipeline.StateFailed),
		"interrupted", report.Count(pipeline.StateInterrupted),
		"records", totals.Records,
		"admitted", totals.Admitted,
		"filtered", totals.Filtered,
		"skipped", totals.Skipped,
		"duration", report.Duration.Round(time.Millisecond).String(),
	)
	for _, f := range report.Files {
		if f.State == pipeline.StateDone {
			continue
		}
		a.logger.Warn("file not completed",
			"file", f.Path,
			"state", f.State,
			"offset", f.CommittedOffset,
			"error", f.Error,
		)
	}
}

func (a *app) compact(ctx context.Context) (*compact.Result, error) {
	compactor, err := compact.New(compact.Config{
		Workers: a.cfg.Compaction.Workers,
		Level:   a.cfg.Compaction.Level,
	}, a.logger, a.metrics)
	if err != nil {
		return nil, err
	}

	result, err := compactor.Run(ctx, a.cfg.Output.Dir)
	if err != nil {
		return result, fmt.Errorf("compaction failed: %w", err)
	}
	a.logger.Info("compaction summary",
		"compacted", result.Compacted,
		"appended", result.Appended,
		"skipped", result.Skipped,
		"stale_removed", result.StaleRemoved,
		"bytes_in", result.BytesIn,
		"bytes_out", result.BytesOut,
	)
	return result, nil
}

func (a *app) archive(ctx context.Context) error {
	archiveCfg := a.cfg.Archive
	uploader, err := storage.NewUploader(ctx, storage.BackendConfig{
		Backend: archiveCfg.Backend,
		S3: storage.S3Config{
			Bucket:       archiveCfg.S3.Bucket,
			Region:       archiveCfg.S3.Region,
			Endpoint:     archiveCfg.S3.Endpoint,
			UsePathStyle: archiveCfg.S3.UsePathStyle,
			SSEEnabled:   archiveCfg.S3.SSEEnabled,
			SSEKMSKeyID:  archiveCfg.S3.SSEKMSKeyID,
		},
		GCS: storage.GCSConfig{
			Bucket:          archiveCfg.GCS.Bucket,
			ProjectID:       archiveCfg.GCS.ProjectID,
			CredentialsFile: archiveCfg.GCS.CredentialsFile,
			CredentialsJSON: archiveCfg.GCS.CredentialsJSON,
			Endpoint:        archiveCfg.GCS.Endpoint,
		},
		Azure: storage.AzureConfig{
			AccountName:   archiveCfg.Azure.AccountName,
			AccountKey:    archiveCfg.Azure.AccountKey,
			ContainerName: archiveCfg.Azure.Container,
			Endpoint:      archiveCfg.Azure.Endpoint,
		},
		File: storage.FileConfig{BasePath: archiveCfg.File.BasePath},
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create %s uploader: %w", archiveCfg.Backend, err)
	}
	a.addCleanup("uploader", uploader.Close)

	archiver := storage.NewArchiver(storage.ArchiveConfig{
		Workers:     archiveCfg.Workers,
		DeleteLocal: archiveCfg.DeleteLocal,
		Retry:       a.retryConfig(),
	}, uploader, storage.NewRouter(archiveCfg.BasePath), a.logger, a.metrics)

	result, err := archiver.Run(ctx, a.cfg.Output.Dir)
	if result != nil {
		a.logger.Info("archive summary",
			"backend", uploader.Backend(),
			"uploaded", result.Uploaded,
			"failed", result.Failed,
			"bytes", result.Bytes,
		)
	}
	return err
}

func (a *app) search(ctx context.Context) error {
	searchCfg := a.cfg.Search
	exporter, err := export.New(export.Config{
		Targets:     searchCfg.Targets,
		Comments:    searchCfg.Comments,
		Format:      record.FileFormat(searchCfg.Format),
		Compression: searchCfg.Compression,
		OutputDir:   searchCfg.OutputDir,
		Prefix:      searchCfg.Prefix,
		Reverse:     searchCfg.Reverse,
	}, source.NewOpener(source.Options{
		MaxLineBytes: a.cfg.Input.MaxLineBytes,
		Logger:       a.logger,
		Metrics:      a.metrics,
	}), a.logger, a.metrics)
	if err != nil {
		return err
	}

	opts := a.discoverOptions()
	opts.Reverse = searchCfg.Reverse
	inputs, err := exporter.Inputs(a.cfg.Input.Path, opts)
	if err != nil {
		return fmt.Errorf("failed to discover input files: %w", err)
	}
	if len(inputs) == 0 {
		a.logger.Warn("no input files found", "path", a.cfg.Input.Path)
		return nil
	}

	result, err := exporter.Run(ctx, inputs)
	if result != nil {
		a.logger.Info("search summary",
			"inputs", result.Inputs,
			"records", result.Records,
			"rows", result.Rows,
			"duplicates", result.Duplicates,
			"outputs", len(result.Outputs),
		)
		for _, out := range result.Outputs {
			a.logger.Info("export written", "path", out.Path, "rows", out.Rows, "bytes", out.Size)
		}
	}
	return err
}

func (a *app) checkpointList(ctx context.Context, w io.Writer) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	offsets, err := store.Load(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(offsets))
	for id := range offsets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%d\n", id, offsets[id])
	}
	return nil
}

func (a *app) checkpointReset(ctx context.Context, ids []string, all bool) error {
	if len(ids) == 0 && !all {
		return errors.New("checkpoint reset: name at least one file or pass --all")
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	offsets, err := store.Load(ctx)
	if err != nil {
		return err
	}

	var targets []string
	if all {
		for id := range offsets {
			targets = append(targets, id)
		}
		sort.Strings(targets)
	} else {
		for _, id := range ids {
			// Inputs are checkpointed under their absolute path.
			abs, err := filepath.Abs(id)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", id, err)
			}
			if _, ok := offsets[abs]; !ok {
				return fmt.Errorf("checkpoint reset: no checkpoint for %s", abs)
			}
			targets = append(targets, abs)
		}
	}

	for _, id := range targets {
		if err := store.Reset(ctx, id); err != nil {
			return fmt.Errorf("failed to reset %s: %w", id, err)
		}
		a.logger.Info("checkpoint reset", "file", id)
	}
	return nil
}

// parseTargets parses "category[:term,term]" values. Repeated categories
// merge their terms.
func parseTargets(values []string) map[string][]string {
	targets := make(map[string][]string, len(values))
	for _, v := range values {
		category, terms, _ := strings.Cut(v, ":")
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}
		list := targets[category]
		for _, term := range strings.Split(terms, ",") {
			if term = strings.TrimSpace(term); term != "" {
				list = append(list, term)
			}
		}
		targets[category] = list
	}
	return targets
}
