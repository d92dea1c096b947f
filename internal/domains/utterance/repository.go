package utterance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Utterance is one spoken message submitted by the speech session owner.
type Utterance struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	SessionID uuid.UUID `json:"sessionId"`
	Language  string    `json:"language"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// UtteranceRepository persists utterances.
type UtteranceRepository interface {
	Create(ctx context.Context, u *Utterance) error
	// ListBySession returns one user's utterances in a session, newest first.
	ListBySession(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]Utterance, error)
}

// memoryRepository keeps utterances in process. It is used when no database
// is configured.
type memoryRepository struct {
	mu        sync.RWMutex
	bySession map[uuid.UUID][]Utterance
}

func NewMemoryRepository() UtteranceRepository {
	return &memoryRepository{bySession: make(map[uuid.UUID][]Utterance)}
}

func (m *memoryRepository) Create(_ context.Context, u *Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySession[u.SessionID] = append(m.bySession[u.SessionID], *u)
	return nil
}

func (m *memoryRepository) ListBySession(_ context.Context, userID, sessionID uuid.UUID, limit int) ([]Utterance, error) {
	m.mu.RLock()
	var out []Utterance
	for _, u := range m.bySession[sessionID] {
		if u.UserID == userID {
			out = append(out, u)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
