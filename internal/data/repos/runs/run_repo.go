package runs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/price-summarizer/internal/domain/runs"
	"github.com/yungbote/price-summarizer/internal/pkg/dbctx"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
)

var (
	ErrRunNotFound = errors.New("conversion run not found")
	// ErrRunClaimed means another run already holds the object version.
	ErrRunClaimed = errors.New("conversion run already claimed")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// RunResult carries the fields written when a run finishes.
type RunResult struct {
	OutputBucket string
	OutputKey    string
	ChartKey     string
	RowsRead     int
	RowsUsed     int
	RowsSkipped  int
	Groups       int
	Stats        datatypes.JSON
}

type RunRepo interface {
	Create(dbc dbctx.Context, run *types.ConversionRun) (*types.ConversionRun, error)
	MarkSucceeded(dbc dbctx.Context, id uuid.UUID, res RunResult) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, errText string, res RunResult) error
	MarkDuplicate(dbc dbctx.Context, id uuid.UUID) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ConversionRun, error)
	ListRecent(dbc dbctx.Context, limit int) ([]*types.ConversionRun, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "RunRepo"),
	}
}

func (r *runRepo) Create(dbc dbctx.Context, run *types.ConversionRun) (*types.ConversionRun, error) {
	if run == nil {
		return nil, errors.New("nil conversion run")
	}
	if run.Status == "" {
		run.Status = types.RunStatusRunning
	}
	if err := dbc.Conn(r.db).Create(run).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, fmt.Errorf("%s/%s: %w", run.InputBucket, run.InputKey, ErrRunClaimed)
		}
		return nil, err
	}
	return run, nil
}

func (r *runRepo) MarkSucceeded(dbc dbctx.Context, id uuid.UUID, res RunResult) error {
	updates := res.updates()
	updates["status"] = types.RunStatusSucceeded
	updates["error"] = ""
	return r.finish(dbc, id, updates)
}

func (r *runRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, errText string, res RunResult) error {
	updates := res.updates()
	updates["status"] = types.RunStatusFailed
	updates["error"] = truncate(errText, 2000)
	updates["claim_key"] = nil
	return r.finish(dbc, id, updates)
}

func (r *runRepo) MarkDuplicate(dbc dbctx.Context, id uuid.UUID) error {
	return r.finish(dbc, id, map[string]interface{}{
		"status":    types.RunStatusDuplicate,
		"claim_key": nil,
	})
}

func (r *runRepo) finish(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return ErrRunNotFound
	}
	now := time.Now().UTC()
	updates["finished_at"] = now
	updates["updated_at"] = now
	res := dbc.Conn(r.db).
		Model(&types.ConversionRun{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return nil
}

func (r *runRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ConversionRun, error) {
	if id == uuid.Nil {
		return nil, ErrRunNotFound
	}
	var run types.ConversionRun
	err := dbc.Conn(r.db).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *runRepo) ListRecent(dbc dbctx.Context, limit int) ([]*types.ConversionRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	out := []*types.ConversionRun{}
	if err := dbc.Conn(r.db).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (res RunResult) updates() map[string]interface{} {
	u := map[string]interface{}{
		"rows_read":    res.RowsRead,
		"rows_used":    res.RowsUsed,
		"rows_skipped": res.RowsSkipped,
		"group_count":  res.Groups,
	}
	if res.OutputBucket != "" {
		u["output_bucket"] = res.OutputBucket
	}
	if res.OutputKey != "" {
		u["output_key"] = res.OutputKey
	}
	if res.ChartKey != "" {
		u["chart_key"] = res.ChartKey
	}
	if len(res.Stats) > 0 {
		u["stats"] = res.Stats
	}
	return u
}

// IsUniqueViolation matches duplicate-key errors from postgres (23505) and
// from gorm's translated sqlite errors.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.TrimSpace(pgErr.Code) == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
