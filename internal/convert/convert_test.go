package convert

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/chart"
	runrepo "github.com/yungbote/price-summarizer/internal/data/repos/runs"
	"github.com/yungbote/price-summarizer/internal/data/repos/testutil"
	"github.com/yungbote/price-summarizer/internal/domain/runs"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/pkg/dbctx"
	"github.com/yungbote/price-summarizer/internal/platform/gcp"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
	"github.com/yungbote/price-summarizer/internal/platform/redisx"
)

const (
	inputBucket  = "prices-input-dev"
	outputBucket = "prices-output-dev"
)

type memDeduper struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func newMemDeduper() *memDeduper { return &memDeduper{claimed: map[string]bool{}} }

func (d *memDeduper) Claim(_ context.Context, ref events.ObjectRef) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := redisx.DedupKey("", ref)
	if d.claimed[key] {
		return false, nil
	}
	d.claimed[key] = true
	return true, nil
}

func (d *memDeduper) Release(_ context.Context, ref events.ObjectRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, redisx.DedupKey("", ref))
	d.released = append(d.released, ref.String())
	return nil
}

type failingUploads struct {
	gcp.BucketService
}

func (f failingUploads) Upload(context.Context, string, string, io.Reader, string) error {
	return errors.New("storage unavailable")
}

func newBucket(t *testing.T) gcp.BucketService {
	t.Helper()
	bs, err := gcp.NewLocalBucketService(t.TempDir())
	require.NoError(t, err)
	return bs
}

func put(t *testing.T, bs gcp.BucketService, key, body string) events.ObjectRef {
	t.Helper()
	require.NoError(t, bs.Upload(context.Background(), inputBucket, key, strings.NewReader(body), ""))
	return events.ObjectRef{Bucket: inputBucket, Key: key, Generation: 1, Source: events.SourceGCS}
}

func get(t *testing.T, bs gcp.BucketService, bucket, key string) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := bs.Download(context.Background(), bucket, key, &buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func newConverter(t *testing.T, bs gcp.BucketService, cfg Config, deps Deps) *Converter {
	t.Helper()
	if cfg.TmpDir == "" {
		cfg.TmpDir = t.TempDir()
	}
	c, err := New(logger.Nop(), bs, cfg, deps)
	require.NoError(t, err)
	return c
}

func TestConvertWritesSummary(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "2024/q1.csv", "year,brand,price\n2020,A,10\n2020,A,20\n2021,B,5\n")
	metrics := observability.New()
	c := newConverter(t, bs, Config{}, Deps{Metrics: metrics})

	out, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, "File processed successfully", out.Body)
	require.NotNil(t, out.Output)
	assert.Equal(t, events.ObjectRef{Bucket: outputBucket, Key: "2024/q1.json"}, *out.Output)
	require.NotNil(t, out.Stats)
	assert.Equal(t, 3, out.Stats.RowsUsed)

	want := "{\n  \"2020\": {\n    \"A\": 15\n  },\n  \"2021\": {\n    \"B\": 5\n  }\n}\n"
	assert.Equal(t, want, string(get(t, bs, outputBucket, "2024/q1.json")))
	assert.Equal(t, 1.0, metrics.ConversionCount("gcs", "succeeded"))
}

func TestConvertSkipsNonCSV(t *testing.T) {
	bs := newBucket(t)
	dedup := newMemDeduper()
	c := newConverter(t, bs, Config{}, Deps{Dedup: dedup})

	out, err := c.Convert(context.Background(), events.ObjectRef{Bucket: inputBucket, Key: "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Empty(t, dedup.claimed)
}

func TestConvertMissingColumnIsPermanent(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "bad.csv", "year,brand\n2020,A\n")
	dedup := newMemDeduper()
	c := newConverter(t, bs, Config{}, Deps{Dedup: dedup})

	out, err := c.Convert(context.Background(), ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, aggregate.ErrMissingColumn)
	assert.Equal(t, http.StatusBadRequest, out.StatusCode)
	assert.Equal(t, "missing_column", out.Code)
	assert.True(t, out.Permanent())
	assert.Equal(t, []string{ref.String()}, dedup.released)

	var sink bytes.Buffer
	_, err = bs.Download(context.Background(), outputBucket, "bad.json", &sink)
	assert.ErrorIs(t, err, gcp.ErrObjectNotFound)
}

func TestConvertMissingObject(t *testing.T) {
	c := newConverter(t, newBucket(t), Config{}, Deps{})

	out, err := c.Convert(context.Background(), events.ObjectRef{Bucket: inputBucket, Key: "gone.csv"})
	assert.ErrorIs(t, err, gcp.ErrObjectNotFound)
	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.Equal(t, StatusFailed, out.Status)
}

func TestConvertInvalidRef(t *testing.T) {
	c := newConverter(t, newBucket(t), Config{}, Deps{})

	out, err := c.Convert(context.Background(), events.ObjectRef{Key: "a.csv"})
	assert.ErrorIs(t, err, events.ErrMissingObject)
	assert.Equal(t, http.StatusBadRequest, out.StatusCode)
}

func TestConvertUnresolvedOutputBucket(t *testing.T) {
	bs := newBucket(t)
	c := newConverter(t, bs, Config{}, Deps{})

	out, err := c.Convert(context.Background(), events.ObjectRef{Bucket: "prices", Key: "a.csv"})
	assert.ErrorIs(t, err, ErrOutputBucketUnresolved)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
}

func TestConvertDuplicateClaim(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "dup.csv", "year,brand,price\n2020,A,1\n")
	c := newConverter(t, bs, Config{}, Deps{Dedup: newMemDeduper()})

	first, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, first.Status)

	second, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, StatusDuplicate, second.Status)
}

func TestConvertUploadFailureReleasesClaim(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "q.csv", "year,brand,price\n2020,A,1\n")
	dedup := newMemDeduper()
	c := newConverter(t, failingUploads{bs}, Config{}, Deps{Dedup: dedup})

	out, err := c.Convert(context.Background(), ref)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.False(t, out.Permanent())
	assert.Contains(t, out.Body, "storage unavailable")
	assert.Equal(t, []string{ref.String()}, dedup.released)
}

func TestConvertRendersChart(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "charted.csv", "year,brand,price\n2020,A,10\n2021,A,12\n")
	renderer, err := chart.NewRenderer(chart.Options{Width: 320, Height: 200})
	require.NoError(t, err)
	c := newConverter(t, bs, Config{Chart: renderer}, Deps{})

	out, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "charted.png", out.ChartKey)

	img, err := png.Decode(bytes.NewReader(get(t, bs, outputBucket, "charted.png")))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestConvertRecordsLedger(t *testing.T) {
	bs := newBucket(t)
	ref := put(t, bs, "ledger.csv", "year,brand,price\n2020,A,10\n2020,B,N/A\n")
	repo := runrepo.NewRunRepo(testutil.DB(t), logger.Nop())
	c := newConverter(t, bs, Config{}, Deps{Runs: repo})

	out, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)

	run, err := repo.GetByID(dbctx.New(context.Background()), uuid.MustParse(out.RunID))
	require.NoError(t, err)
	assert.Equal(t, runs.RunStatusSucceeded, run.Status)
	assert.Equal(t, outputBucket, run.OutputBucket)
	assert.Equal(t, "ledger.json", run.OutputKey)
	assert.Equal(t, 2, run.RowsRead)
	assert.Equal(t, 1, run.RowsSkipped)

	// Without Redis the ledger's live claim still stops a redelivery.
	again, err := c.Convert(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, again.Status)

	recent, err := repo.ListRecent(dbctx.New(context.Background()), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, runs.RunStatusDuplicate, recent[0].Status)
}

func TestConvertReprocessesReupload(t *testing.T) {
	bs := newBucket(t)
	repo := runrepo.NewRunRepo(testutil.DB(t), logger.Nop())
	c := newConverter(t, bs, Config{}, Deps{Dedup: newMemDeduper(), Runs: repo})
	ctx := context.Background()

	upload := func(price, version string, source events.Source) events.ObjectRef {
		ref := put(t, bs, "p.csv", "year,brand,price\n2020,A,"+price+"\n")
		ref.Generation = 0
		ref.Version = version
		ref.Source = source
		return ref
	}
	summary := func() string { return string(get(t, bs, outputBucket, "p.json")) }

	cases := []struct {
		name    string
		ref     events.ObjectRef
		status  Status
		summary string
	}{
		{"first unversioned upload", upload("10", "", events.SourceS3), StatusSucceeded, `"A": 10`},
		{"unversioned reupload", upload("99", "", events.SourceS3), StatusSucceeded, `"A": 99`},
		{"sequenced upload", upload("20", "s:01", events.SourceS3), StatusSucceeded, `"A": 20`},
		{"new sequencer", upload("30", "s:02", events.SourceS3), StatusSucceeded, `"A": 30`},
		{"manual rerun", upload("40", "", events.SourceDirect), StatusSucceeded, `"A": 40`},
		{"manual rerun again", upload("50", "", events.SourceDirect), StatusSucceeded, `"A": 50`},
	}
	for _, tc := range cases {
		out, err := c.Convert(ctx, tc.ref)
		require.NoError(t, err, tc.name)
		if out.Status != tc.status {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.status, out.Status)
		}
		assert.Contains(t, summary(), tc.summary, tc.name)
	}

	// A redelivered notification for an already converted version stays a duplicate.
	redelivered := upload("77", "s:02", events.SourceS3)
	out, err := c.Convert(ctx, redelivered)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, out.Status)
	assert.Contains(t, summary(), `"A": 50`)
}
