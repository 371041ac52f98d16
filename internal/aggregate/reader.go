package aggregate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type Column string

const (
	ColumnYear  Column = "year"
	ColumnBrand Column = "brand"
	ColumnPrice Column = "price"
)

// Options controls how a delimited price file is read. The zero value reads
// comma-separated input with the default column names.
type Options struct {
	// Delimiter between fields. Defaults to ','.
	Delimiter rune
	// DecimalComma parses prices written as 1.234,56. A '.' is then only
	// accepted as a thousands separator between groups of three digits, so
	// 10.5 is a malformed price rather than 105.
	DecimalComma bool
	// Accepted header names per column, compared case-insensitively.
	YearNames  []string
	BrandNames []string
	PriceNames []string
}

var (
	DefaultYearNames  = []string{"year", "ano"}
	DefaultBrandNames = []string{"brand", "marca"}
	DefaultPriceNames = []string{"price", "preco", "preço", "valor"}
)

func (o Options) withDefaults() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if len(o.YearNames) == 0 {
		o.YearNames = DefaultYearNames
	}
	if len(o.BrandNames) == 0 {
		o.BrandNames = DefaultBrandNames
	}
	if len(o.PriceNames) == 0 {
		o.PriceNames = DefaultPriceNames
	}
	return o
}

// Reader yields Records from a delimited stream whose first row is a header.
// Columns are located by name, so their order in the file does not matter.
type Reader struct {
	csv   *csv.Reader
	opts  Options
	year  int
	brand int
	price int
	line  int
}

// NewReader reads the header and resolves the year, brand and price columns.
// A missing column is reported before any data row is read.
func NewReader(r io.Reader, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no header row", ErrUnreadable)
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrUnreadable, err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	rd := &Reader{csv: cr, opts: opts, line: 1}
	if rd.year, err = lookupColumn(header, ColumnYear, opts.YearNames); err != nil {
		return nil, err
	}
	if rd.brand, err = lookupColumn(header, ColumnBrand, opts.BrandNames); err != nil {
		return nil, err
	}
	if rd.price, err = lookupColumn(header, ColumnPrice, opts.PriceNames); err != nil {
		return nil, err
	}
	return rd, nil
}

func lookupColumn(header []string, col Column, names []string) (int, error) {
	for _, name := range names {
		want := strings.ToLower(strings.TrimSpace(name))
		for i, h := range header {
			if strings.ToLower(strings.TrimSpace(h)) == want {
				return i, nil
			}
		}
	}
	return -1, &MissingColumnError{Column: col, Accepted: names, Header: header}
}

// Next returns the next record. A malformed row yields a *RowError and the
// caller may keep reading; io.EOF marks the end of input. Any other error is
// an I/O failure wrapping ErrUnreadable.
func (r *Reader) Next() (Record, error) {
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.line = perr.Line
			return Record{}, &RowError{Line: perr.Line, Reason: SkipMalformed, Err: perr.Err}
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	r.line, _ = r.csv.FieldPos(0)
	if isBlankRow(row) {
		return r.Next()
	}
	if len(row) <= r.year || len(row) <= r.brand || len(row) <= r.price {
		return Record{}, &RowError{Line: r.line, Reason: SkipFieldCount, Value: strconv.Itoa(len(row))}
	}

	year, err := parseYear(row[r.year])
	if err != nil {
		return Record{}, &RowError{Line: r.line, Reason: SkipBadYear, Value: row[r.year], Err: err}
	}
	brand := NormalizeBrand(row[r.brand])
	if brand == "" {
		return Record{}, &RowError{Line: r.line, Reason: SkipBadBrand, Value: row[r.brand]}
	}
	price, err := parsePrice(row[r.price], r.opts.DecimalComma)
	if err != nil {
		return Record{}, &RowError{Line: r.line, Reason: SkipBadPrice, Value: row[r.price], Err: err}
	}
	return Record{Year: year, Brand: brand, Price: price}, nil
}

func isBlankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// NormalizeBrand trims the brand and collapses inner whitespace. Case is kept
// as written, so "Fiat" and "FIAT" are different brands.
func NormalizeBrand(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\u00a0", " ")), " ")
}

func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	// Spreadsheet exports often write integer columns as 2020.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.New("not an integer")
	}
	return int(f), nil
}

func parsePrice(s string, decimalComma bool) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty")
	}
	if decimalComma {
		var err error
		if s, err = normalizeDecimalComma(s); err != nil {
			return 0, err
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not finite")
	}
	return f, nil
}

// normalizeDecimalComma rewrites "1.234,56" as "1234.56".
func normalizeDecimalComma(s string) (string, error) {
	intPart, frac, hasFrac := strings.Cut(s, ",")
	if strings.Contains(frac, ",") || strings.Contains(frac, ".") {
		return "", fmt.Errorf("malformed decimal-comma number %q", s)
	}
	if strings.Contains(intPart, ".") {
		digits := strings.TrimLeft(intPart, "+-")
		groups := strings.Split(digits, ".")
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return "", fmt.Errorf("malformed thousands grouping in %q", s)
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", fmt.Errorf("malformed thousands grouping in %q", s)
			}
		}
		intPart = strings.ReplaceAll(intPart, ".", "")
	}
	if !hasFrac {
		return intPart, nil
	}
	return intPart + "." + frac, nil
}
