package types

import (
	"time"

	"github.com/google/uuid"
)

// Comment is a derived row produced by the categorization stage. The stage
// replaces the full set for a report on every run (delete then insert), so
// a redelivered job never appends duplicates.
type Comment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ReportID   uuid.UUID `gorm:"type:uuid;not null;index" json:"report_id"`
	CommentKey string    `gorm:"column:comment_key;not null" json:"comment_key"`
	Text       string    `gorm:"column:text;not null" json:"text"`
	Agrees     int       `gorm:"column:agrees;not null;default:0" json:"agrees"`
	Disagrees  int       `gorm:"column:disagrees;not null;default:0" json:"disagrees"`
	Passes     int       `gorm:"column:passes;not null;default:0" json:"passes"`
	Topic      string    `gorm:"column:topic" json:"topic,omitempty"`
	Subtopic   string    `gorm:"column:subtopic" json:"subtopic,omitempty"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Comment) TableName() string { return "report_comment" }
