package aggregate

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Stats reports what a pass over an input did.
type Stats struct {
	RowsRead    int                `json:"rows_read"`
	RowsUsed    int                `json:"rows_used"`
	RowsSkipped int                `json:"rows_skipped"`
	Skipped     map[SkipReason]int `json:"skipped,omitempty"`
	Groups      int                `json:"groups"`
	// FirstSkips keeps the first few skipped rows for diagnostics.
	FirstSkips []string `json:"first_skips,omitempty"`
}

const maxSkipSamples = 5

func (s *Stats) skip(rerr *RowError) {
	s.RowsSkipped++
	if s.Skipped == nil {
		s.Skipped = map[SkipReason]int{}
	}
	s.Skipped[rerr.Reason]++
	if len(s.FirstSkips) < maxSkipSamples {
		s.FirstSkips = append(s.FirstSkips, rerr.Error())
	}
}

// AggregateReader reads a header plus data rows from r and returns the mean
// price per (year, brand). Malformed rows are skipped and counted.
func AggregateReader(r io.Reader, opts Options) (Result, Stats, error) {
	var stats Stats
	rd, err := NewReader(r, opts)
	if err != nil {
		return nil, stats, err
	}
	acc := NewAccumulator()
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.RowsRead++
		if err != nil {
			var rerr *RowError
			if errors.As(err, &rerr) {
				stats.skip(rerr)
				continue
			}
			return nil, stats, err
		}
		if !acc.Add(rec) {
			stats.skip(&RowError{Line: rd.line, Reason: SkipBadPrice, Value: fmt.Sprint(rec.Price)})
			continue
		}
		stats.RowsUsed++
	}
	stats.Groups = acc.Len()
	return acc.Result(), stats, nil
}

// AggregateFile is AggregateReader over a local file.
func AggregateFile(path string, opts Options) (Result, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()
	return AggregateReader(f, opts)
}
