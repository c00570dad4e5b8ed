package simio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"funcmatch/internal/graph"
	"funcmatch/internal/storage"
)

// ReadPairs parses candidate pairs, one per line:
//
//	query_binary_id,query_function_id,target_binary_id,target_function_id[,label]
//
// label is a boolean (1/0, true/false) and defaults to false. A header line
// is skipped when present.
func ReadPairs(r io.Reader) ([]storage.Pair, error) {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	c.TrimLeadingSpace = true
	c.Comment = '#'

	var out []storage.Pair
	for line := 1; ; line++ {
		rec, err := c.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedRow, err)
		}
		p, err := parsePair(rec)
		if err != nil {
			if line == 1 && isHeader(rec) {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedRow, line, err)
		}
		out = append(out, p)
	}
}

func parsePair(rec []string) (storage.Pair, error) {
	if len(rec) != 4 && len(rec) != 5 {
		return storage.Pair{}, fmt.Errorf("want 4 or 5 fields, got %d", len(rec))
	}
	var ids [4]int64
	for i := range ids {
		v, err := strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 64)
		if err != nil {
			return storage.Pair{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		ids[i] = v
	}
	p := storage.Pair{
		QueryBinary:    ids[0],
		QueryFunction:  graph.FunctionID(ids[1]),
		TargetBinary:   ids[2],
		TargetFunction: graph.FunctionID(ids[3]),
	}
	if len(rec) == 5 {
		label, err := strconv.ParseBool(strings.TrimSpace(rec[4]))
		if err != nil {
			return storage.Pair{}, fmt.Errorf("label: %w", err)
		}
		p.Label = label
	}
	return p, nil
}
