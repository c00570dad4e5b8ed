// Package simio reads pairwise similarity dumps produced by an external
// function similarity model.
package simio

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"funcmatch/internal/graph"
	"funcmatch/internal/storage"
)

// Format is the container of a similarity dump.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatZstd Format = "zstd"
	FormatLZ4  Format = "lz4"
)

// ErrMalformedRow is wrapped by every row parse error.
var ErrMalformedRow = errors.New("malformed similarity row")

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) Format {
	switch {
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return FormatZstd
	case strings.HasSuffix(path, ".lz4"):
		return FormatLZ4
	default:
		return FormatCSV
	}
}

// Reader streams rows of query_function_id,target_function_id,similarity.
// A header line is skipped when present.
type Reader struct {
	csv     *csv.Reader
	closers []io.Closer
	line    int
}

// NewReader wraps r, decompressing according to format.
func NewReader(r io.Reader, format Format) (*Reader, error) {
	rd := &Reader{}

	switch format {
	case FormatCSV:
	case FormatZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		r = dec
		rd.closers = append(rd.closers, closerFunc(func() error { dec.Close(); return nil }))
	case FormatLZ4:
		r = lz4.NewReader(r)
	default:
		return nil, fmt.Errorf("unknown similarity dump format %q", format)
	}

	c := csv.NewReader(r)
	c.FieldsPerRecord = 3
	c.TrimLeadingSpace = true
	c.Comment = '#'
	c.ReuseRecord = true
	rd.csv = c
	return rd, nil
}

// Open opens a dump file, detecting its format from the extension.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(f, DetectFormat(path))
	if err != nil {
		f.Close()
		return nil, err
	}
	rd.closers = append(rd.closers, f)
	return rd, nil
}

// Next returns the next row, or io.EOF when the dump is exhausted.
func (r *Reader) Next() (storage.Similarity, error) {
	for {
		rec, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return storage.Similarity{}, io.EOF
			}
			return storage.Similarity{}, fmt.Errorf("%w: %w", ErrMalformedRow, err)
		}
		r.line++

		row, err := parseRow(rec)
		if err != nil {
			if r.line == 1 && isHeader(rec) {
				continue
			}
			return storage.Similarity{}, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, r.line, err)
		}
		return row, nil
	}
}

// Close releases the decompressor and the underlying file.
func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func parseRow(rec []string) (storage.Similarity, error) {
	q, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return storage.Similarity{}, fmt.Errorf("query id: %w", err)
	}
	t, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64)
	if err != nil {
		return storage.Similarity{}, fmt.Errorf("target id: %w", err)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return storage.Similarity{}, fmt.Errorf("similarity: %w", err)
	}
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return storage.Similarity{}, graph.ErrInvalidWeight
	}
	return storage.Similarity{Query: graph.FunctionID(q), Target: graph.FunctionID(t), Similarity: w}, nil
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Sink receives batches of similarity rows.
type Sink interface {
	SaveSimilarities(ctx context.Context, rows []storage.Similarity) error
}

// Import streams every row of r into sink in batches of batchSize and
// returns the number of rows written.
func Import(ctx context.Context, r *Reader, sink Sink, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	batch := make([]storage.Similarity, 0, batchSize)
	total := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink.SaveSimilarities(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}
