package chart

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/yungbote/price-summarizer/internal/aggregate"
)

func TestRenderProducesPNG(t *testing.T) {
	result := aggregate.Result{
		2020: {"A": 15, "B": 20},
		2021: {"A": 12.5, "Citroën": -3},
	}
	b, err := Render(result, Options{Width: 640, Height: 400})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 400, img.Bounds().Dy())
}

func TestRenderEmptyResult(t *testing.T) {
	b, err := Render(aggregate.Result{}, Options{})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, 1024, img.Bounds().Dx())
}

func TestRendererRejectsBadInputs(t *testing.T) {
	_, err := NewRenderer(Options{Palette: []string{"#12345"}})
	assert.Error(t, err)

	_, err = NewRenderer(Options{FontPath: filepath.Join(t.TempDir(), "missing.ttf")})
	assert.Error(t, err)
}

func TestParseHexColor(t *testing.T) {
	c, err := parseHexColor(" #4e79a7 ")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x4e), c.R)
	assert.Equal(t, uint8(0x79), c.G)
	assert.Equal(t, uint8(0xa7), c.B)
	assert.Equal(t, uint8(255), c.A)

	_, err = parseHexColor("zzzzzz")
	assert.Error(t, err)
}

func TestValueRangeIncludesZero(t *testing.T) {
	lo, hi := valueRange(aggregate.Result{2020: {"A": 10, "B": 20}})
	assert.Equal(t, 0.0, lo)
	assert.InDelta(t, 21.0, hi, 1e-9)

	lo, hi = valueRange(aggregate.Result{2020: {"A": -5}})
	assert.Equal(t, -5.0, lo)
	assert.Equal(t, 0.0, hi)
}

func TestRendererConcurrentTTF(t *testing.T) {
	fontPath := filepath.Join(t.TempDir(), "goregular.ttf")
	require.NoError(t, os.WriteFile(fontPath, goregular.TTF, 0o600))
	r, err := NewRenderer(Options{Width: 480, Height: 300, FontPath: fontPath})
	require.NoError(t, err)

	result := aggregate.Result{
		2019: {"Fiat": 41.5, "Ford": 60},
		2020: {"Citroën": 33, "Renault": 47.25},
	}
	want, err := r.Render(result)
	require.NoError(t, err)

	const workers = 8
	got := make([][]byte, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = r.Render(result)
		}(i)
	}
	wg.Wait()
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if !bytes.Equal(want, got[i]) {
			t.Fatalf("render #%d: output differs from sequential render", i)
		}
	}
}
