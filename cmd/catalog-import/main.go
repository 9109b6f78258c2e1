// Command catalog-import loads products from gzipped NDJSON shards, one
// product object per line, into the catalog.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		cfg         importConfig
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.ndjson.gz catalog shards")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.Workers, "workers", runtime.GOMAXPROCS(0), "shards read concurrently")
	flag.IntVar(&cfg.Batch, "batch", 500, "products upserted per transaction")
	flag.UintVar(&cfg.Capacity, "bloom-capacity", 10_000_000, "expected number of distinct variants")
	flag.Float64Var(&cfg.FPR, "bloom-fpr", 1e-6, "false positive rate of the variant dedup filter")
	flag.Parse()

	_ = godotenv.Load()
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		return run(ctx, lg, dataDir, databaseURL, cfg)
	})
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, cfg importConfig) error {
	shards, err := findShards(dataDir)
	if err != nil {
		return err
	}
	lg.Info("Importing catalog", zap.Int("shards", len(shards)), zap.Int("workers", cfg.Workers))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.Transactor(postgres.New(pool), func(tx *postgres.Tx) catalogTx { return tx })
	stats, err := newImporter(store, cfg).Run(ctx, shards)
	if err != nil {
		return errors.Wrap(err, "import")
	}

	lg.Info("Catalog import completed",
		zap.Int("shards", stats.Shards),
		zap.Int("products", stats.Products),
		zap.Int("variants", stats.Variants),
		zap.Int("duplicate_variants", stats.Dropped),
	)
	return nil
}
