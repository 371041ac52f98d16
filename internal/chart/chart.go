// Package chart renders a price summary as a grouped bar chart PNG: one group
// per year, one bar per brand, colored consistently across years.
package chart

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/yungbote/price-summarizer/internal/aggregate"
)

var DefaultPalette = []string{
	"#4E79A7", "#F28E2B", "#E15759", "#76B7B2", "#59A14F",
	"#EDC948", "#B07AA1", "#FF9DA7", "#9C755F", "#BAB0AC",
}

type Options struct {
	Width    int
	Height   int
	Title    string
	FontPath string
	FontSize float64
	Palette  []string
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 640
	}
	if o.FontSize <= 0 {
		o.FontSize = 14
	}
	if len(o.Palette) == 0 {
		o.Palette = DefaultPalette
	}
	if strings.TrimSpace(o.Title) == "" {
		o.Title = "Mean price by year and brand"
	}
	return o
}

// Renderer holds a parsed font so repeated renders skip TTF parsing. It is
// safe for concurrent use: truetype faces cache rasterized glyphs, so each
// Render builds its own face from the shared *truetype.Font.
type Renderer struct {
	opts    Options
	ttf     *truetype.Font
	palette []color.NRGBA
}

func NewRenderer(opts Options) (*Renderer, error) {
	opts = opts.withDefaults()

	palette := make([]color.NRGBA, 0, len(opts.Palette))
	for _, h := range opts.Palette {
		c, err := parseHexColor(h)
		if err != nil {
			return nil, fmt.Errorf("palette: %w", err)
		}
		palette = append(palette, c)
	}

	r := &Renderer{opts: opts, palette: palette}
	if strings.TrimSpace(opts.FontPath) != "" {
		f, err := loadFont(opts.FontPath)
		if err != nil {
			return nil, err
		}
		r.ttf = f
	}
	return r, nil
}

func (r *Renderer) newFace() font.Face {
	if r.ttf == nil {
		return basicfont.Face7x13
	}
	return truetype.NewFace(r.ttf, &truetype.Options{
		Size:    r.opts.FontSize,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// Render is a one-shot NewRenderer(opts).Render(result).
func Render(result aggregate.Result, opts Options) ([]byte, error) {
	r, err := NewRenderer(opts)
	if err != nil {
		return nil, err
	}
	return r.Render(result)
}

const (
	marginLeft   = 80.0
	marginRight  = 24.0
	marginTop    = 56.0
	marginBottom = 48.0
	legendRow    = 20.0
)

func (r *Renderer) Render(result aggregate.Result) ([]byte, error) {
	w, h := float64(r.opts.Width), float64(r.opts.Height)
	dc := gg.NewContext(r.opts.Width, r.opts.Height)
	dc.SetColor(color.White)
	dc.Clear()
	face := r.newFace()
	defer face.Close()
	dc.SetFontFace(face)

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(r.opts.Title, w/2, 24, 0.5, 0.5)

	years := result.Years()
	if result.Groups() == 0 {
		dc.SetColor(color.Gray{Y: 120})
		dc.DrawStringAnchored("no data", w/2, h/2, 0.5, 0.5)
		return encode(dc)
	}

	brands := allBrands(result)
	colorOf := make(map[string]color.NRGBA, len(brands))
	for i, b := range brands {
		colorOf[b] = r.palette[i%len(r.palette)]
	}

	legendHeight := drawLegend(dc, brands, colorOf, w)

	lo, hi := valueRange(result)
	plotTop := marginTop + legendHeight
	plotBottom := h - marginBottom
	plotLeft := marginLeft
	plotRight := w - marginRight
	plotHeight := plotBottom - plotTop
	yOf := func(v float64) float64 {
		return plotBottom - (v-lo)/(hi-lo)*plotHeight
	}

	drawAxis(dc, lo, hi, plotLeft, plotRight, yOf)

	groupWidth := (plotRight - plotLeft) / float64(len(years))
	zeroY := yOf(0)
	for gi, year := range years {
		groupLeft := plotLeft + float64(gi)*groupWidth
		yearBrands := result.Brands(year)
		barWidth := groupWidth * 0.8 / float64(len(yearBrands))
		start := groupLeft + groupWidth*0.1
		for bi, brand := range yearBrands {
			v := result[year][brand]
			top, bottom := yOf(v), zeroY
			if top > bottom {
				top, bottom = bottom, top
			}
			dc.SetColor(colorOf[brand])
			dc.DrawRectangle(start+float64(bi)*barWidth, top, math.Max(barWidth-1, 1), math.Max(bottom-top, 1))
			dc.Fill()
		}
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(strconv.Itoa(year), groupLeft+groupWidth/2, plotBottom+18, 0.5, 0.5)
	}

	return encode(dc)
}

func drawLegend(dc *gg.Context, brands []string, colorOf map[string]color.NRGBA, width float64) float64 {
	x, y := marginLeft, marginTop-8
	rows := 1
	for _, b := range brands {
		tw, _ := dc.MeasureString(b)
		itemWidth := 14 + 6 + tw + 16
		if x+itemWidth > width-marginRight && x > marginLeft {
			x = marginLeft
			y += legendRow
			rows++
		}
		dc.SetColor(colorOf[b])
		dc.DrawRectangle(x, y-10, 14, 14)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(b, x+20, y-3, 0, 0.5)
		x += itemWidth
	}
	return float64(rows) * legendRow
}

func drawAxis(dc *gg.Context, lo, hi, left, right float64, yOf func(float64) float64) {
	dc.SetColor(color.Gray{Y: 200})
	dc.SetLineWidth(1)
	const ticks = 5
	for i := 0; i <= ticks; i++ {
		v := lo + (hi-lo)*float64(i)/ticks
		y := yOf(v)
		dc.DrawLine(left, y, right, y)
		dc.Stroke()
		dc.DrawStringAnchored(formatTick(v), left-8, y, 1, 0.5)
	}
	dc.SetColor(color.Black)
	dc.DrawLine(left, yOf(0), right, yOf(0))
	dc.Stroke()
}

func encode(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func allBrands(result aggregate.Result) []string {
	seen := map[string]struct{}{}
	for _, byBrand := range result {
		for b := range byBrand {
			seen[b] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// valueRange always includes zero so bars grow from a visible baseline.
func valueRange(result aggregate.Result) (float64, float64) {
	lo, hi := 0.0, 0.0
	for _, byBrand := range result {
		for _, v := range byBrand {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi * 1.05
}

func formatTick(v float64) string {
	switch {
	case math.Abs(v) >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 1, 64) + "M"
	case math.Abs(v) >= 1e4:
		return strconv.FormatFloat(v/1e3, 'f', 0, 64) + "k"
	default:
		return strconv.FormatFloat(v, 'g', 4, 64)
	}
}

func parseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: b[0], G: b[1], B: b[2], A: 255}, nil
}

func loadFont(fontPath string) (*truetype.Font, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return parsedFont, nil
}
