package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sensemaker/backend/internal/logger"
	"github.com/sensemaker/backend/internal/types"
)

// CommentRepo persists the categorized comment rows derived from a report's
// CSV. Writes use replace semantics so a redelivered job is idempotent.
type CommentRepo interface {
	// ReplaceForReport deletes every existing comment row for the report and
	// inserts the given set, in a single transaction.
	ReplaceForReport(ctx context.Context, reportID uuid.UUID, comments []*types.Comment) error
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]*types.Comment, error)
	CountByReport(ctx context.Context, reportID uuid.UUID) (int64, error)
}

type commentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommentRepo(db *gorm.DB, baseLog *logger.Logger) CommentRepo {
	return &commentRepo{db: db, log: baseLog.With("repo", "CommentRepo")}
}

func (r *commentRepo) ReplaceForReport(ctx context.Context, reportID uuid.UUID, comments []*types.Comment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", reportID).Delete(&types.Comment{}).Error; err != nil {
			return err
		}
		if len(comments) == 0 {
			return nil
		}
		for _, c := range comments {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.ReportID = reportID
		}
		return tx.Create(&comments).Error
	})
}

func (r *commentRepo) ListByReport(ctx context.Context, reportID uuid.UUID) ([]*types.Comment, error) {
	var out []*types.Comment
	err := r.db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *commentRepo) CountByReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&types.Comment{}).
		Where("report_id = ?", reportID).
		Count(&n).Error
	return n, err
}
