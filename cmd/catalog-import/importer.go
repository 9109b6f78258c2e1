package main

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/txn"
	"github.com/xenking/kart-checkout/internal/seed"
)

const maxLineBytes = 4 << 20

// catalogTx is the repository set the importer writes through.
type catalogTx interface {
	Catalog() catalog.Repository
}

type importConfig struct {
	// Workers bounds the shards read concurrently.
	Workers int
	// Batch is the number of products upserted per transaction.
	Batch int
	// Capacity and FPR size the variant dedup filter.
	Capacity uint
	FPR      float64
}

type importStats struct {
	Shards   int
	Products int
	Variants int
	Dropped  int
}

// importer streams products from gzipped NDJSON shards into the catalog.
//
// Shards are read concurrently. A single consumer drops variant rows whose
// (product, type, name) was already imported from another line and upserts
// the rest in batches.
type importer struct {
	cfg    importConfig
	store  txn.Transactor[catalogTx]
	filter *bloom.BloomFilter
	stats  importStats
}

func newImporter(store txn.Transactor[catalogTx], cfg importConfig) *importer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
	return &importer{
		cfg:    cfg,
		store:  store,
		filter: bloom.NewWithEstimates(cfg.Capacity, cfg.FPR),
	}
}

// findShards returns the *.ndjson.gz files in dir in name order.
func findShards(dir string) ([]string, error) {
	shards, err := filepath.Glob(filepath.Join(dir, "*.ndjson.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "glob shards")
	}
	if len(shards) == 0 {
		return nil, errors.Errorf("no *.ndjson.gz shards in %s", dir)
	}
	slices.Sort(shards)
	return shards, nil
}

func (im *importer) Run(ctx context.Context, shards []string) (importStats, error) {
	products := make(chan catalog.Product, 4*im.cfg.Batch)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(products)
		readers, rctx := errgroup.WithContext(ctx)
		readers.SetLimit(im.cfg.Workers)
		for _, shard := range shards {
			readers.Go(func() error {
				return readShard(rctx, shard, products)
			})
		}
		return readers.Wait()
	})
	g.Go(func() error {
		return im.consume(ctx, products)
	})

	err := g.Wait()
	im.stats.Shards = len(shards)
	return im.stats, err
}

func (im *importer) consume(ctx context.Context, products <-chan catalog.Product) error {
	batch := make([]catalog.Product, 0, im.cfg.Batch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-products:
			if !ok {
				return im.flush(ctx, batch)
			}
			im.dedup(&p)
			batch = append(batch, p)
			if len(batch) < im.cfg.Batch {
				continue
			}
			if err := im.flush(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
}

// dedup removes variants already seen for the same product. The filter may
// report false positives at the configured rate.
func (im *importer) dedup(p *catalog.Product) {
	kept := p.Variants[:0]
	for _, v := range p.Variants {
		key := p.ID.String() + "\x00" + string(v.Type) + "\x00" + v.Name
		if im.filter.TestAndAddString(key) {
			im.stats.Dropped++
			continue
		}
		kept = append(kept, v)
	}
	p.Variants = kept
}

func (im *importer) flush(ctx context.Context, batch []catalog.Product) error {
	if len(batch) == 0 {
		return nil
	}
	err := im.store.InTx(ctx, func(tx catalogTx) error {
		for i := range batch {
			if err := tx.Catalog().UpsertProduct(ctx, &batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "upsert batch")
	}
	for _, p := range batch {
		im.stats.Products++
		im.stats.Variants += len(p.Variants)
	}
	zctx.From(ctx).Debug("Batch imported",
		zap.Int("size", len(batch)),
		zap.Int("products_total", im.stats.Products),
	)
	return nil
}

// readShard decodes one product per line of a gzipped NDJSON file.
func readShard(ctx context.Context, path string, out chan<- catalog.Product) error {
	lg := zctx.From(ctx).With(zap.String("shard", filepath.Base(path)))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	line, count := 0, 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		p, err := seed.ParseProduct(data)
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		select {
		case out <- p:
			count++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	lg.Info("Shard read", zap.Int("products", count))
	return nil
}
