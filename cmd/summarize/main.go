// Command summarize writes the mean price per year and brand of a local CSV
// file as JSON.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/chart"
	"github.com/yungbote/price-summarizer/internal/config"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "summarize: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("summarize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		outPath      string
		delimiter    string
		decimalComma bool
		chartPath    string
		chartFont    string
		logMode      string
	)
	fs.StringVar(&outPath, "o", "", "write JSON to this file instead of stdout")
	fs.StringVar(&delimiter, "delimiter", ",", `field delimiter (a single character, or "tab")`)
	fs.BoolVar(&decimalComma, "decimal-comma", false, "parse prices written as 1.234,56")
	fs.StringVar(&chartPath, "chart", "", "also render a PNG bar chart to this file")
	fs.StringVar(&chartFont, "chart-font", "", "TTF font for chart labels")
	fs.StringVar(&logMode, "log-mode", "test", "logger mode (development, production, test)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: summarize [-o out.json] [-delimiter ';'] [-decimal-comma] [-chart out.png] file.csv")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one input file, got %d", fs.NArg())
	}
	input := fs.Arg(0)

	log, err := logger.New(logMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	delim, err := config.ConvertConfig{Delimiter: delimiter}.DelimiterRune()
	if err != nil {
		return err
	}
	result, stats, err := aggregate.AggregateFile(input, aggregate.Options{
		Delimiter:    delim,
		DecimalComma: decimalComma,
	})
	if err != nil {
		return err
	}
	log.Info("aggregated",
		"input", input,
		"rows_read", stats.RowsRead,
		"rows_used", stats.RowsUsed,
		"rows_skipped", stats.RowsSkipped,
		"groups", stats.Groups,
	)

	if err := writeSummary(outPath, stdout, result); err != nil {
		return err
	}
	if chartPath != "" {
		png, err := chart.Render(result, chart.Options{FontPath: chartFont, Title: filepath.Base(input)})
		if err != nil {
			return fmt.Errorf("render chart: %w", err)
		}
		if err := os.WriteFile(chartPath, png, 0o644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	return nil
}

func writeSummary(outPath string, stdout io.Writer, result aggregate.Result) error {
	if outPath == "" {
		return aggregate.WriteJSON(stdout, result)
	}
	b, err := aggregate.MarshalJSON(result)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, b, 0o644)
}
