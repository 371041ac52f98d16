// Package aggregate computes mean prices grouped by (year, brand).
//
// The computation is a single pass: every valid record adds to a running
// sum and count for its key, and means are taken only once all records have
// been consumed. Keys are never pre-seeded, so a key in the result always has
// at least one contributing record.
package aggregate

import (
	"math"
	"sort"
)

type Record struct {
	Year  int
	Brand string
	Price float64
}

type Key struct {
	Year  int
	Brand string
}

// Result maps year -> brand -> mean price.
type Result map[int]map[string]float64

// Years returns the result's years in ascending order.
func (r Result) Years() []int {
	out := make([]int, 0, len(r))
	for y := range r {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// Brands returns the brands recorded for year in ascending order.
func (r Result) Brands(year int) []string {
	byBrand := r[year]
	out := make([]string, 0, len(byBrand))
	for b := range byBrand {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Groups counts the distinct (year, brand) pairs.
func (r Result) Groups() int {
	n := 0
	for _, byBrand := range r {
		n += len(byBrand)
	}
	return n
}

type sumCount struct {
	sum   float64
	count int
}

// Accumulator holds running sums and counts per key. The zero value is not
// usable; call NewAccumulator.
type Accumulator struct {
	groups map[Key]*sumCount
}

func NewAccumulator() *Accumulator {
	return &Accumulator{groups: map[Key]*sumCount{}}
}

// Add folds rec into its group. Records with an empty brand or a non-finite
// price are rejected and leave every group untouched.
func (a *Accumulator) Add(rec Record) bool {
	if rec.Brand == "" || math.IsNaN(rec.Price) || math.IsInf(rec.Price, 0) {
		return false
	}
	k := Key{Year: rec.Year, Brand: rec.Brand}
	g, ok := a.groups[k]
	if !ok {
		g = &sumCount{}
		a.groups[k] = g
	}
	g.sum += rec.Price
	g.count++
	return true
}

// Len is the number of distinct keys seen so far.
func (a *Accumulator) Len() int { return len(a.groups) }

func (a *Accumulator) Result() Result {
	out := Result{}
	for k, g := range a.groups {
		if g.count == 0 {
			continue
		}
		byBrand, ok := out[k.Year]
		if !ok {
			byBrand = map[string]float64{}
			out[k.Year] = byBrand
		}
		byBrand[k.Brand] = g.sum / float64(g.count)
	}
	return out
}

// Aggregate groups already-parsed records and returns the mean price per
// (year, brand).
func Aggregate(records []Record) Result {
	acc := NewAccumulator()
	for _, rec := range records {
		acc.Add(rec)
	}
	return acc.Result()
}
