// Command coupon-import loads campaign coupon files into the coupons table.
//
// Each input is a gzip file of "code,kind,value" lines. Codes that appear
// in more than one file are treated as conflicting and skipped; everything
// else is upserted with a shared validity window.
package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	batchSize     = 1_000
	maxFiles      = bits.UintSize
)

type options struct {
	dataDir       string
	databaseURL   string
	bloomCapacity uint
	validFor      time.Duration
	dryRun        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing *.csv.gz campaign files")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.bloomCapacity, "bloom-capacity", 10_000_000, "expected codes per file")
	flag.DurationVar(&opts.validFor, "valid-for", 30*24*time.Hour, "validity window of imported coupons")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "scan files and report without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
	lg.Info("Coupon import completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list campaign files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.csv.gz files in %s", opts.dataDir)
	}
	if len(files) > maxFiles {
		return errors.Errorf("too many files: %d (max %d)", len(files), maxFiles)
	}
	slices.Sort(files)

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, lg, files, opts.bloomCapacity)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding codes shared between files")
	shared, err := findSharedCodes(ctx, lg, files, filters)
	if err != nil {
		return errors.Wrap(err, "find shared codes")
	}
	lg.Info("Shared codes found", zap.Int("count", len(shared)))

	lg.Info("Pass 3: collecting coupons")
	now := time.Now().UTC()
	window := validity{start: now, end: now.Add(opts.validFor)}
	coupons, rejected, err := collectCoupons(ctx, files, shared, window)
	if err != nil {
		return errors.Wrap(err, "collect coupons")
	}
	lg.Info("Coupons collected",
		zap.Int("importable", len(coupons)),
		zap.Int("rejected_lines", rejected),
	)

	if opts.dryRun || len(coupons) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL, postgres.Options{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, lg, postgres.NewCatalogWriter(pool), coupons)
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, lg *zap.Logger, files []string, capacity uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(capacity, bloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(line string) {
				code, ok := lineCode(line)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findSharedCodes re-streams each file and tests its codes against the
// other files' filters. A code is shared when at least two files report it,
// which rules out a single false positive.
func findSharedCodes(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	masks := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(line string) {
				code, ok := lineCode(line)
				if !ok {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			lg.Info("Pass 2 complete", zap.String("file", path), zap.Int("candidates", len(candidates)))
			masks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeShared(masks), nil
}

func mergeShared(masks []map[string]uint) map[string]struct{} {
	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	shared := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			shared[code] = struct{}{}
		}
	}
	return shared
}

// collectCoupons parses every line once more and keeps valid, non-shared
// codes. A later line for the same code overrides an earlier one.
func collectCoupons(ctx context.Context, files []string, shared map[string]struct{}, window validity) ([]coupon.Coupon, int, error) {
	byCode := make(map[string]coupon.Coupon)
	rejected := 0
	for _, path := range files {
		err := streamGzFile(ctx, path, func(line string) {
			c, err := parseLine(line, window)
			switch {
			case errors.Is(err, errSkipLine):
				return
			case err != nil:
				rejected++
				return
			}
			if _, ok := shared[c.Code]; ok {
				return
			}
			c.ID = uuid.NewString()
			byCode[c.Code] = c
		})
		if err != nil {
			return nil, 0, errors.Wrapf(err, "collect from %s", path)
		}
	}

	out := make([]coupon.Coupon, 0, len(byCode))
	for _, c := range byCode {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return out, rejected, nil
}

func writeCoupons(ctx context.Context, lg *zap.Logger, w *postgres.CatalogWriter, coupons []coupon.Coupon) error {
	lg.Info("Writing coupons", zap.Int("count", len(coupons)))
	for chunk := range slices.Chunk(coupons, batchSize) {
		if err := w.UpsertCoupons(ctx, chunk); err != nil {
			return errors.Wrap(err, "upsert coupons")
		}
		lg.Debug("Write progress", zap.Int("batch", len(chunk)))
	}
	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
