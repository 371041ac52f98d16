// Package convert turns a price CSV object into its JSON summary object.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/chart"
	runrepo "github.com/yungbote/price-summarizer/internal/data/repos/runs"
	"github.com/yungbote/price-summarizer/internal/domain/runs"
	"github.com/yungbote/price-summarizer/internal/events"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/pkg/dbctx"
	"github.com/yungbote/price-summarizer/internal/platform/ctxutil"
	"github.com/yungbote/price-summarizer/internal/platform/gcp"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
	"github.com/yungbote/price-summarizer/internal/platform/redisx"
)

type Config struct {
	Naming    Naming
	Aggregate aggregate.Options
	// TmpDir holds downloads while they are aggregated. Empty uses os.TempDir.
	TmpDir string
	// Timeout bounds one conversion. Zero means no extra bound.
	Timeout time.Duration
	// Chart, when set, renders a PNG next to every summary.
	Chart *chart.Renderer
}

// Deps are the optional collaborators. Nil fields are skipped.
type Deps struct {
	Dedup   redisx.Deduper
	Runs    runrepo.RunRepo
	Metrics *observability.Metrics
}

type Converter struct {
	log     *logger.Logger
	bucket  gcp.BucketService
	cfg     Config
	dedup   redisx.Deduper
	runs    runrepo.RunRepo
	metrics *observability.Metrics
}

func New(log *logger.Logger, bucket gcp.BucketService, cfg Config, deps Deps) (*Converter, error) {
	if bucket == nil {
		return nil, errors.New("bucket service required")
	}
	if cfg.Naming == (Naming{}) {
		cfg.Naming = DefaultNaming()
	}
	dedup := deps.Dedup
	if dedup == nil {
		dedup = redisx.NopDeduper()
	}
	return &Converter{
		log:     log.With("service", "Converter"),
		bucket:  bucket,
		cfg:     cfg,
		dedup:   dedup,
		runs:    deps.Runs,
		metrics: deps.Metrics,
	}, nil
}

// Convert handles one object notification. The returned Outcome is always
// non-nil; err is set only for failed conversions.
func (c *Converter) Convert(ctx context.Context, ref events.ObjectRef) (out *Outcome, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "convert",
		attribute.String("input.bucket", ref.Bucket),
		attribute.String("input.key", ref.Key),
		attribute.String("input.source", string(ref.Source)),
	)
	defer func() {
		observability.EndSpan(span, err)
		c.observe(ref, out, time.Since(start))
	}()

	if !ref.Valid() {
		err = fmt.Errorf("%w: bucket=%q key=%q", events.ErrMissingObject, ref.Bucket, ref.Key)
		return failedOutcome(ref, err), err
	}
	if !IsCSVKey(ref.Key) {
		c.log.Info("skipping non-csv object", "input", ref.String())
		return &Outcome{
			StatusCode: 200,
			Body:       fmt.Sprintf("skipped: %s is not a .csv object", ref.Key),
			Status:     StatusSkipped,
			Input:      ref,
		}, nil
	}

	output, err := c.cfg.Naming.Output(ref)
	if err != nil {
		return failedOutcome(ref, err), err
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if ref.Deduplicable() {
		claimed, claimErr := c.dedup.Claim(ctx, ref)
		if claimErr != nil {
			c.log.Warn("dedup claim failed (continuing)", "input", ref.String(), "error", claimErr)
			claimed = true
		}
		if !claimed {
			return c.duplicate(ctx, ref, "claim"), nil
		}
	}

	run, dup := c.startRun(ctx, ref)
	if dup {
		return c.duplicate(ctx, ref, "ledger"), nil
	}

	chartKey := ""
	if c.cfg.Chart != nil {
		chartKey = ChartKey(ref.Key)
	}
	stats, err := c.process(ctx, ref, output, chartKey)
	if err != nil {
		c.fail(ctx, ref, run, stats, err)
		out = failedOutcome(ref, err)
		out.RunID = runID(run)
		out.Stats = stats
		return out, err
	}

	c.finishRun(ctx, run, output, chartKey, stats)
	c.log.Info("conversion succeeded",
		"input", ref.String(),
		"output", output.String(),
		"rows_read", stats.RowsRead,
		"rows_used", stats.RowsUsed,
		"rows_skipped", stats.RowsSkipped,
		"groups", stats.Groups,
	)
	return &Outcome{
		StatusCode: 200,
		Body:       successBody,
		Status:     StatusSucceeded,
		RunID:      runID(run),
		Input:      ref,
		Output:     &output,
		ChartKey:   chartKey,
		Stats:      stats,
	}, nil
}

func (c *Converter) process(ctx context.Context, ref, output events.ObjectRef, chartKey string) (*aggregate.Stats, error) {
	dir, err := os.MkdirTemp(c.cfg.TmpDir, "ps-convert-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, path.Base(ref.Key))
	if err := c.download(ctx, ref, local); err != nil {
		return nil, err
	}

	_, aggSpan := observability.StartSpan(ctx, "convert.aggregate")
	result, stats, err := aggregate.AggregateFile(local, c.cfg.Aggregate)
	aggSpan.SetAttributes(
		attribute.Int("rows.read", stats.RowsRead),
		attribute.Int("rows.skipped", stats.RowsSkipped),
		attribute.Int("groups", stats.Groups),
	)
	observability.EndSpan(aggSpan, err)
	if err != nil {
		return &stats, fmt.Errorf("aggregate %s: %w", ref.String(), err)
	}

	payload, err := aggregate.MarshalJSON(result)
	if err != nil {
		return &stats, fmt.Errorf("encode summary: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.upload(gctx, output.Bucket, output.Key, payload, "application/json; charset=utf-8")
	})
	if chartKey != "" {
		g.Go(func() error {
			png, err := c.cfg.Chart.Render(result)
			if err != nil {
				return fmt.Errorf("render chart: %w", err)
			}
			return c.upload(gctx, output.Bucket, chartKey, png, "image/png")
		})
	}
	if err := g.Wait(); err != nil {
		return &stats, err
	}
	return &stats, nil
}

func (c *Converter) download(ctx context.Context, ref events.ObjectRef, local string) (err error) {
	ctx, span := observability.StartSpan(ctx, "convert.download")
	defer func() { observability.EndSpan(span, err) }()

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	n, err := c.bucket.Download(ctx, ref.Bucket, ref.Key, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", ref.String(), err)
	}
	span.SetAttributes(attribute.Int64("bytes", n))
	c.metrics.AddObjectBytes("download", n)
	return nil
}

func (c *Converter) upload(ctx context.Context, bucket, key string, body []byte, contentType string) (err error) {
	ctx, span := observability.StartSpan(ctx, "convert.upload",
		attribute.String("output.bucket", bucket),
		attribute.String("output.key", key),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := c.bucket.Upload(ctx, bucket, key, bytes.NewReader(body), contentType); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	c.metrics.AddObjectBytes("upload", int64(len(body)))
	return nil
}

func (c *Converter) duplicate(ctx context.Context, ref events.ObjectRef, via string) *Outcome {
	c.log.Info("duplicate notification ignored", "input", ref.String(), "version", ref.VersionTag(), "via", via)
	out := &Outcome{
		StatusCode: 200,
		Body:       fmt.Sprintf("duplicate: %s already processed", ref.String()),
		Status:     StatusDuplicate,
		Input:      ref,
	}
	if c.runs == nil {
		return out
	}
	dbc := dbctx.New(context.WithoutCancel(ctx))
	run, err := c.runs.Create(dbc, c.newRun(ctx, ref, nil))
	if err == nil {
		err = c.runs.MarkDuplicate(dbc, run.ID)
		out.RunID = run.ID.String()
	}
	if err != nil {
		c.log.Warn("ledger: record duplicate failed", "input", ref.String(), "error", err)
	}
	return out
}

// startRun records the run. dup is true when the ledger already holds a live
// claim on this object version. Unversioned refs are recorded without a claim.
func (c *Converter) startRun(ctx context.Context, ref events.ObjectRef) (*runs.ConversionRun, bool) {
	if c.runs == nil {
		return nil, false
	}
	var claim *string
	if ref.Deduplicable() {
		k := redisx.DedupKey("", ref)
		claim = &k
	}
	run, err := c.runs.Create(dbctx.New(ctx), c.newRun(ctx, ref, claim))
	if errors.Is(err, runrepo.ErrRunClaimed) {
		return nil, true
	}
	if err != nil {
		c.log.Warn("ledger: create run failed (continuing)", "input", ref.String(), "error", err)
		return nil, false
	}
	return run, false
}

func (c *Converter) newRun(ctx context.Context, ref events.ObjectRef, claim *string) *runs.ConversionRun {
	return &runs.ConversionRun{
		ID:              uuid.New(),
		InputBucket:     ref.Bucket,
		InputKey:        ref.Key,
		InputGeneration: ref.Generation,
		InputVersion:    ref.Version,
		Source:          string(ref.Source),
		ClaimKey:        claim,
		Status:          runs.RunStatusRunning,
		TraceID:         traceID(ctx),
		StartedAt:       time.Now().UTC(),
	}
}

func (c *Converter) finishRun(ctx context.Context, run *runs.ConversionRun, output events.ObjectRef, chartKey string, stats *aggregate.Stats) {
	if c.runs == nil || run == nil {
		return
	}
	res := runResult(stats)
	res.OutputBucket = output.Bucket
	res.OutputKey = output.Key
	res.ChartKey = chartKey
	if err := c.runs.MarkSucceeded(dbctx.New(context.WithoutCancel(ctx)), run.ID, res); err != nil {
		c.log.Warn("ledger: mark succeeded failed", "run_id", run.ID, "error", err)
	}
}

func (c *Converter) fail(ctx context.Context, ref events.ObjectRef, run *runs.ConversionRun, stats *aggregate.Stats, cause error) {
	status, code := Classify(cause)
	c.log.Error("conversion failed", "input", ref.String(), "status", status, "code", code, "error", cause)

	bg := context.WithoutCancel(ctx)
	if ref.Deduplicable() {
		if err := c.dedup.Release(bg, ref); err != nil {
			c.log.Warn("dedup release failed", "input", ref.String(), "error", err)
		}
	}
	if c.runs == nil || run == nil {
		return
	}
	if err := c.runs.MarkFailed(dbctx.New(bg), run.ID, cause.Error(), runResult(stats)); err != nil {
		c.log.Warn("ledger: mark failed failed", "run_id", run.ID, "error", err)
	}
}

func (c *Converter) observe(ref events.ObjectRef, out *Outcome, dur time.Duration) {
	if c.metrics == nil || out == nil {
		return
	}
	rows := observability.RowCounts{}
	if out.Stats != nil {
		rows.Read = out.Stats.RowsRead
		rows.Used = out.Stats.RowsUsed
		rows.Skipped = make(map[string]int, len(out.Stats.Skipped))
		for reason, n := range out.Stats.Skipped {
			rows.Skipped[string(reason)] = n
		}
	}
	source := string(ref.Source)
	if source == "" {
		source = string(events.SourceDirect)
	}
	c.metrics.ObserveConversion(source, string(out.Status), dur, rows)
}

func runResult(stats *aggregate.Stats) runrepo.RunResult {
	if stats == nil {
		return runrepo.RunResult{}
	}
	res := runrepo.RunResult{
		RowsRead:    stats.RowsRead,
		RowsUsed:    stats.RowsUsed,
		RowsSkipped: stats.RowsSkipped,
		Groups:      stats.Groups,
	}
	if b, err := json.Marshal(stats); err == nil {
		res.Stats = datatypes.JSON(b)
	}
	return res
}

func runID(run *runs.ConversionRun) string {
	if run == nil {
		return ""
	}
	return run.ID.String()
}

func traceID(ctx context.Context) string {
	if td := ctxutil.GetTraceData(ctx); td != nil && td.TraceID != "" {
		return td.TraceID
	}
	return observability.TraceID(ctx)
}
