package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
)

const (
	bloomCapacity = 50_000_000
	bloomFPR      = 0.001
	numFeeds      = 3
	progressEvery = 1_000_000
	minNoLen      = 6
	maxNoLen      = 16
	insertBatch   = 500
)

// feedRecord is one line of a gzipped supplier feed. Feeds are NDJSON: one
// product per line, keyed by product number.
type feedRecord struct {
	ProductNo   string          `json:"productNo"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int32           `json:"quantity"`
}

// fileResult holds candidate product numbers found in a single feed during
// pass 2, as a bitmask of the feeds each number was seen in.
type fileResult struct {
	candidates map[string]uint
	records    map[string]feedRecord
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing catalogN.gz feed files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files := make([]string, numFeeds)
	for i := range numFeeds {
		files[i] = filepath.Join(dataDir, fmt.Sprintf("catalog%d.gz", i+1))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: build one bloom filter per feed, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", numFeeds))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: keep product numbers confirmed by 2+ independent feeds.
	slog.Info("pass 2: finding confirmed products")

	confirmed, err := findConfirmedProducts(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find confirmed products")
	}

	slog.Info("confirmed products found", slog.Int("count", len(confirmed)))

	if len(confirmed) == 0 {
		slog.Info("no confirmed products to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeProducts(ctx, pool, confirmed); err != nil {
		return errors.Wrap(err, "write products to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter of product numbers per feed.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(buildFilterForFile(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(line []byte) {
			no := productNo(line)
			if no == "" {
				return
			}
			filter.AddString(no)
			count++
			if count%progressEvery == 0 {
				slog.Info("pass 1 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("records", count),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_records", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findConfirmedProducts re-streams each feed and checks product numbers
// against OTHER feeds' bloom filters. A product is confirmed when it appears
// in 2 or more feeds; its record is taken from the lowest-numbered feed.
func findConfirmedProducts(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]feedRecord, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(findCandidatesInFile(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge bitmasks from all feeds.
	merged := make(map[string]uint)
	for _, r := range results {
		for no, mask := range r.candidates {
			merged[no] |= mask
		}
	}

	var confirmed []feedRecord
	for no, mask := range merged {
		if bits.OnesCount(mask) < 2 {
			continue
		}
		for _, r := range results {
			if rec, ok := r.records[no]; ok {
				confirmed = append(confirmed, rec)
				break
			}
		}
	}

	return confirmed, nil
}

func findCandidatesInFile(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		records := make(map[string]feedRecord)
		fileBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(line []byte) {
			no := productNo(line)
			if no == "" {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("records", count),
				)
			}

			// Check if this product appears in any OTHER feed's filter.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(no) {
					candidates[no] |= fileBit
					if _, seen := records[no]; !seen {
						var rec feedRecord
						if err := json.Unmarshal(line, &rec); err == nil {
							records[no] = rec
						}
					}
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_records", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = fileResult{candidates: candidates, records: records}
		return nil
	}
}

const ingestProductSQL = `
INSERT INTO products (id, name, product_no, description, category, image, price, quantity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (product_no) DO UPDATE SET
    name        = EXCLUDED.name,
    description = EXCLUDED.description,
    category    = EXCLUDED.category,
    image       = EXCLUDED.image,
    price       = EXCLUDED.price,
    quantity    = EXCLUDED.quantity
`

// writeProducts upserts confirmed records in batches keyed by product number.
func writeProducts(ctx context.Context, pool *pgxpool.Pool, records []feedRecord) error {
	slog.Info("upserting products", slog.Int("count", len(records)))

	for start := 0; start < len(records); start += insertBatch {
		end := min(start+insertBatch, len(records))

		var batch pgx.Batch
		for _, rec := range records[start:end] {
			id := "cat-" + strings.ToLower(rec.ProductNo)
			batch.Queue(ingestProductSQL,
				id, rec.Name, rec.ProductNo, rec.Description,
				rec.Category, rec.Image, rec.Price, rec.Quantity,
			)
		}

		br := pool.SendBatch(ctx, &batch)
		for range end - start {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return errors.Wrap(err, "upsert batch")
			}
		}
		if err := br.Close(); err != nil {
			return errors.Wrap(err, "close batch")
		}

		slog.Info("batch upserted", slog.Int("done", end), slog.Int("total", len(records)))
	}

	return nil
}

// productNo extracts the product number from a feed line. Records with
// out-of-bounds numbers are skipped.
func productNo(line []byte) string {
	var probe struct {
		ProductNo string `json:"productNo"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ""
	}
	if len(probe.ProductNo) < minNoLen || len(probe.ProductNo) > maxNoLen {
		return ""
	}
	return probe.ProductNo
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte)) error {
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
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
