package utterance

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/internal/domains/utterance"
	"gorm.io/gorm"
)

type GormUtteranceRepo struct {
	db *gorm.DB
}

func NewGormUtteranceRepo(db *gorm.DB) utterance.UtteranceRepository {
	return &GormUtteranceRepo{db: db}
}

// Create implements utterance.UtteranceRepository
func (g *GormUtteranceRepo) Create(ctx context.Context, u *utterance.Utterance) error {
	entity := NewUtteranceEntityFromDomain(u)
	if err := g.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create utterance: %w", err)
	}
	*u = entity.ToDomain()
	return nil
}

// ListBySession implements utterance.UtteranceRepository
func (g *GormUtteranceRepo) ListBySession(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]utterance.Utterance, error) {
	var entities []UtteranceEntity

	query := g.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}

	out := make([]utterance.Utterance, 0, len(entities))
	for i := range entities {
		out = append(out, entities[i].ToDomain())
	}
	return out, nil
}
