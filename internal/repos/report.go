package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/types"
)

// ReportRepo is the narrow slice of the report table the job pipeline is
// allowed to touch. The CRUD layer owns every other field.
type ReportRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Report, error)
	SetStatus(ctx context.Context, id uuid.UUID, status types.ReportStatus) error
	SetTopics(ctx context.Context, id uuid.UUID, topics datatypes.JSON) error
	SetOutput(ctx context.Context, id uuid.UUID, output datatypes.JSON) error
}

type reportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return &reportRepo{db: db, log: baseLog.With("repo", "ReportRepo")}
}

func (r *reportRepo) GetByID(ctx context.Context, id uuid.UUID) (*types.Report, error) {
	var report types.Report
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *reportRepo) SetStatus(ctx context.Context, id uuid.UUID, status types.ReportStatus) error {
	return r.update(ctx, id, map[string]interface{}{"status": status})
}

func (r *reportRepo) SetTopics(ctx context.Context, id uuid.UUID, topics datatypes.JSON) error {
	return r.update(ctx, id, map[string]interface{}{"topics": topics})
}

func (r *reportRepo) SetOutput(ctx context.Context, id uuid.UUID, output datatypes.JSON) error {
	return r.update(ctx, id, map[string]interface{}{"output_json": output})
}

func (r *reportRepo) update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&types.Report{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
