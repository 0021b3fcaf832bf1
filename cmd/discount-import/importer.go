package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/store/internal/domain/discount"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
)

// dateLayouts are the accepted expire_date formats.
var dateLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

type discountWriter interface {
	UpsertBatch(ctx context.Context, discounts []*discount.Discount) error
}

// Stats summarizes an import run.
type Stats struct {
	Written    int
	Duplicates int
	Invalid    int
}

// importer streams discount CSV files concurrently into a single writer.
// A code seen more than once across all files is written only the first
// time it reaches the writer.
type importer struct {
	repo      discountWriter
	batchSize int

	// filter holds every code after the first pass. Codes it reported as
	// already present land in candidates, the only codes tracked exactly;
	// the value flips to true once the code has been written.
	filter     *bloom.BloomFilter
	candidates map[string]bool
	stats      Stats
}

func newImporter(repo discountWriter, batchSize int, expected uint) *importer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if expected == 0 {
		expected = 1
	}
	return &importer{
		repo:       repo,
		batchSize:  batchSize,
		filter:     bloom.NewWithEstimates(expected, bloomFPR),
		candidates: make(map[string]bool),
	}
}

// Import makes two passes over files. The first builds the bloom filter and
// collects possible duplicates; the second upserts discounts in batches,
// skipping repeats of the collected candidates.
func (imp *importer) Import(ctx context.Context, files []string) (Stats, error) {
	quiet := slog.New(slog.DiscardHandler)
	if _, err := imp.stream(ctx, files, quiet, imp.collect); err != nil {
		return imp.stats, errors.Wrap(err, "collect candidates")
	}
	slog.Info("candidates collected", slog.Int("candidates", len(imp.candidates)))

	invalid, err := imp.stream(ctx, files, slog.Default(), imp.consume)
	imp.stats.Invalid = invalid
	if err != nil {
		return imp.stats, errors.Wrap(err, "write discounts")
	}
	return imp.stats, nil
}

// stream reads every file in its own goroutine and feeds the parsed
// discounts to sink. It returns the number of malformed rows.
func (imp *importer) stream(
	ctx context.Context,
	files []string,
	lg *slog.Logger,
	sink func(context.Context, <-chan *discount.Discount) error,
) (int, error) {
	records := make(chan *discount.Discount, imp.batchSize)
	invalid := make([]int, len(files))

	g, gctx := errgroup.WithContext(ctx)
	readers, rctx := errgroup.WithContext(gctx)
	for i, path := range files {
		readers.Go(func() error {
			n, err := readFile(rctx, lg, path, records)
			invalid[i] = n
			return err
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})
	g.Go(func() error {
		return sink(gctx, records)
	})

	err := g.Wait()
	var total int
	for _, n := range invalid {
		total += n
	}
	return total, err
}

func (imp *importer) collect(_ context.Context, records <-chan *discount.Discount) error {
	for d := range records {
		if imp.filter.TestAndAddString(d.Code()) {
			imp.candidates[d.Code()] = false
		}
	}
	return nil
}

func (imp *importer) consume(ctx context.Context, records <-chan *discount.Discount) error {
	batch := make([]*discount.Discount, 0, imp.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := imp.repo.UpsertBatch(ctx, batch); err != nil {
			return errors.Wrap(err, "upsert discounts")
		}
		imp.stats.Written += len(batch)
		if imp.stats.Written%progressEvery < len(batch) {
			slog.Info("write progress", slog.Int("written", imp.stats.Written))
		}
		batch = batch[:0]
		return nil
	}

	for d := range records {
		if imp.duplicate(d.Code()) {
			imp.stats.Duplicates++
			continue
		}
		batch = append(batch, d)
		if len(batch) == imp.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// duplicate reports whether code was already written. A code outside the
// candidates occurs once across all files.
func (imp *importer) duplicate(code string) bool {
	written, ok := imp.candidates[code]
	if !ok {
		return false
	}
	if written {
		return true
	}
	imp.candidates[code] = true
	return false
}

// readFile streams a gzip-compressed CSV file of code,amount,expire_date rows
// into out. Malformed rows are logged and counted, not fatal.
func readFile(ctx context.Context, lg *slog.Logger, path string, out chan<- *discount.Discount) (invalid int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return invalid, errors.Wrapf(err, "read %s", path)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}

		d, err := parseRecord(rec)
		if err != nil {
			invalid++
			lg.Warn("skipping row", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
			continue
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return invalid, ctx.Err()
		}
	}

	lg.Info("file complete", slog.String("file", path), slog.Int("invalid", invalid))
	return invalid, nil
}

func parseRecord(rec []string) (*discount.Discount, error) {
	if len(rec) != 3 {
		return nil, errors.Errorf("expected 3 fields, got %d", len(rec))
	}
	code := strings.ToUpper(strings.TrimSpace(rec[0]))
	if code == "" {
		return nil, errors.New("empty code")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return nil, errors.Wrap(err, "parse amount")
	}
	if amount.IsNegative() {
		return nil, errors.Errorf("negative amount %s", amount)
	}
	expire, err := parseDate(strings.TrimSpace(rec[2]))
	if err != nil {
		return nil, err
	}
	return discount.NewWithCode(code, amount, expire), nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("parse expire_date %q", s)
}
