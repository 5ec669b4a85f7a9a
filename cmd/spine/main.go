// Command spine runs classification passes from the command line: load
// threshold packs, normalize a batch of raw signal records, evaluate
// each entity, and print the appended judgments.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/careops/spine/pkg/config"
	"github.com/careops/spine/pkg/contracts"
	"github.com/careops/spine/pkg/engine"
	"github.com/careops/spine/pkg/ledger"
	"github.com/careops/spine/pkg/normalize"
	"github.com/careops/spine/pkg/observability"
	"github.com/careops/spine/pkg/thresholds"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "evaluate":
		return runEvaluate(args[2:], stdout, stderr)
	case "history":
		return runHistory(args[2:], stdout, stderr)
	case "versions":
		return runVersions(stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: spine <evaluate|history|versions> [flags]")
	_, _ = fmt.Fprintln(w, "  evaluate -input records.json [-version x.y.z]")
	_, _ = fmt.Fprintln(w, "  history -entity <id> [-limit n]")
	_, _ = fmt.Fprintln(w, "  versions")
}

// rawInput is one record in the evaluate input file: a raw reading plus
// its declared signal kind.
type rawInput struct {
	Kind string `json:"kind"`
	normalize.RawRecord
}

func runEvaluate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "path to JSON array of raw signal records")
	version := fs.String("version", "", "threshold pack version (empty = latest)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		_, _ = fmt.Fprintln(stderr, "evaluate: -input is required")
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)
	ctx := context.Background()

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: %v\n", err)
		return 1
	}
	defer cleanup()

	data, err := os.ReadFile(*input)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: read input: %v\n", err)
		return 1
	}
	var records []rawInput
	if err := json.Unmarshal(data, &records); err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: parse input: %v\n", err)
		return 1
	}

	raws := make([]normalize.RawRecord, len(records))
	kinds := make([]contracts.SignalKind, len(records))
	for i, r := range records {
		raws[i] = r.RawRecord
		kinds[i] = contracts.SignalKind(strings.ToUpper(r.Kind))
	}
	observations, rejections := normalize.NormalizeAll(raws, kinds)

	var judgments []contracts.Judgment
	for _, req := range groupByEntity(observations, rejections, *version) {
		j, err := eng.Evaluate(ctx, req)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "spine: evaluate %s: %v\n", req.EntityID, err)
			return 1
		}
		judgments = append(judgments, j)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(judgments); err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: encode output: %v\n", err)
		return 1
	}
	return 0
}

// groupByEntity splits a normalized batch into one request per entity.
// Rejections cannot always be attributed to an entity, so they attach to
// every request in the batch; each judgment then surfaces the full set.
func groupByEntity(observations []contracts.Observation, rejections []string, version string) []engine.EvaluateRequest {
	byEntity := make(map[string]*engine.EvaluateRequest)
	for _, obs := range observations {
		req, ok := byEntity[obs.EntityID]
		if !ok {
			req = &engine.EvaluateRequest{
				EntityID:      obs.EntityID,
				EntityType:    obs.EntityType,
				ConfigVersion: version,
				Rejections:    rejections,
			}
			byEntity[obs.EntityID] = req
		}
		req.Observations = append(req.Observations, obs)
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]engine.EvaluateRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, *byEntity[id])
	}
	return out
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	entity := fs.String("entity", "", "entity id")
	limit := fs.Int("limit", 20, "max entries, newest first")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *entity == "" {
		_, _ = fmt.Fprintln(stderr, "history: -entity is required")
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)
	ctx := context.Background()

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: %v\n", err)
		return 1
	}
	defer cleanup()

	entries, err := eng.GetHistory(ctx, *entity, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: history: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: encode output: %v\n", err)
		return 1
	}
	return 0
}

func runVersions(stdout, stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel, stderr)

	registry, err := loadRegistry(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "spine: %v\n", err)
		return 1
	}
	for _, v := range registry.Versions() {
		_, _ = fmt.Fprintln(stdout, v)
	}
	return 0
}

func buildEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, func(), error) {
	registry, err := loadRegistry(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := []engine.Option{}
	cleanup := closeStore

	if cfg.TelemetryEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("init observability: %w", err)
		}
		opts = append(opts, engine.WithObservability(provider))
		cleanup = func() {
			_ = provider.Shutdown(ctx)
			closeStore()
		}
	}

	if cfg.ArchiveBucket != "" {
		archiver, err := ledger.NewS3Archiver(ctx, ledger.S3ArchiverConfig{
			Bucket: cfg.ArchiveBucket,
			Region: cfg.ArchiveRegion,
			Prefix: cfg.ArchivePrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init archiver: %w", err)
		}
		opts = append(opts, engine.WithArchiver(archiver))
	}

	return engine.New(registry, store, opts...), cleanup, nil
}

func loadRegistry(ctx context.Context, cfg *config.Config) (*thresholds.Registry, error) {
	registry := thresholds.NewRegistry()
	if err := registry.LoadDir(cfg.PacksDir); err != nil {
		return nil, fmt.Errorf("load threshold packs: %w", err)
	}
	if cfg.RedisAddr != "" {
		src := thresholds.NewRedisSource(cfg.RedisAddr, "", 0, "")
		if err := registry.Sync(ctx, src); err != nil {
			return nil, fmt.Errorf("sync threshold packs: %w", err)
		}
	}
	return registry, nil
}

func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.LedgerDriver {
	case "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	case "sqlite", "postgres":
		db, err := sql.Open(cfg.LedgerDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s ledger: %w", cfg.LedgerDriver, err)
		}
		store := ledger.NewSQLStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("init %s ledger: %w", cfg.LedgerDriver, err)
		}
		return store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

func setupLogging(level string, w io.Writer) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})))
}
