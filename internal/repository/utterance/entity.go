package utterance

import (
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"gorm.io/gorm"
)

// UtteranceEntity represents the database entity for Utterance with GORM tags
type UtteranceEntity struct {
	ID        uuid.UUID `gorm:"primaryKey;type:char(36);not null"`
	UserID    uuid.UUID `gorm:"column:user_id;type:char(36);not null;index:idx_session_user_created,priority:2"`
	SessionID uuid.UUID `gorm:"column:session_id;type:char(36);not null;index:idx_session_user_created,priority:1"`
	Language  string    `gorm:"column:language;type:varchar(35)"`
	Text      string    `gorm:"column:text;type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime(3);index:idx_session_user_created,priority:3"`
}

func (UtteranceEntity) TableName() string {
	return "utterances"
}

// BeforeCreate is a GORM hook to ensure UUID is set
func (e *UtteranceEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (e *UtteranceEntity) ToDomain() utterance.Utterance {
	return utterance.Utterance{
		ID:        e.ID,
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Language:  e.Language,
		Text:      e.Text,
		CreatedAt: e.CreatedAt,
	}
}

func NewUtteranceEntityFromDomain(u *utterance.Utterance) *UtteranceEntity {
	return &UtteranceEntity{
		ID:        u.ID,
		UserID:    u.UserID,
		SessionID: u.SessionID,
		Language:  u.Language,
		Text:      u.Text,
		CreatedAt: u.CreatedAt,
	}
}
