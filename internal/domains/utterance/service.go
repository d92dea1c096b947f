package utterance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/mimi/pkg/Logger"
)

var ErrEmptyUtterance = errors.New("utterance is empty")

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// UtteranceService is the owner side of a speech session: it decides what
// happens to a transcript once the speaker goes quiet.
type UtteranceService interface {
	Submit(ctx context.Context, userID, sessionID uuid.UUID, language, text string) (*Utterance, error)
	// ListSession returns the caller's utterances in one session, newest first.
	ListSession(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]Utterance, error)
}

type utteranceService struct {
	repository UtteranceRepository
	logger     *Logger.Logger
	now        func() time.Time
}

func NewUtteranceService(repository UtteranceRepository, logger *Logger.Logger) UtteranceService {
	return &utteranceService{
		repository: repository,
		logger:     Logger.OrNop(logger).Named("utterance"),
		now:        time.Now,
	}
}

func (s *utteranceService) Submit(ctx context.Context, userID, sessionID uuid.UUID, language, text string) (*Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}

	u := &Utterance{
		ID:        uuid.New(),
		UserID:    userID,
		SessionID: sessionID,
		Language:  language,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repository.Create(ctx, u); err != nil {
		s.logger.Errorf("error storing utterance: %v", err)
		return nil, fmt.Errorf("failed to store utterance: %w", err)
	}

	s.logger.Infof("utterance %s submitted for session %s", u.ID, sessionID)
	return u, nil
}

func (s *utteranceService) ListSession(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]Utterance, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	owned, err := s.repository.ListBySession(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list utterances: %w", err)
	}
	return owned, nil
}
