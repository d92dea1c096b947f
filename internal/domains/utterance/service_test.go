package utterance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type failingRepository struct{}

func (failingRepository) Create(context.Context, *Utterance) error {
	return errors.New("db down")
}

func (failingRepository) ListBySession(context.Context, uuid.UUID, uuid.UUID, int) ([]Utterance, error) {
	return nil, errors.New("db down")
}

func TestSubmitTrimsAndStores(t *testing.T) {
	svc := NewUtteranceService(NewMemoryRepository(), nil)
	userID, sessionID := uuid.New(), uuid.New()

	u, err := svc.Submit(context.Background(), userID, sessionID, "en-US", "  hello world ")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if u.Text != "hello world" || u.Language != "en-US" {
		t.Errorf("unexpected utterance %+v", u)
	}

	list, err := svc.ListSession(context.Background(), userID, sessionID, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != u.ID {
		t.Fatalf("expected stored utterance, got %+v", list)
	}
}

func TestSubmitRejectsEmpty(t *testing.T) {
	svc := NewUtteranceService(NewMemoryRepository(), nil)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), "en-US", text); !errors.Is(err, ErrEmptyUtterance) {
			t.Errorf("%q: expected ErrEmptyUtterance, got %v", text, err)
		}
	}
}

func TestSubmitWrapsRepositoryErrors(t *testing.T) {
	svc := NewUtteranceService(failingRepository{}, nil)

	if _, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), "en-US", "hi"); err == nil {
		t.Fatal("expected repository error")
	}
}

func TestListSessionNewestFirstAndOwned(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewUtteranceService(repo, nil).(*utteranceService)
	owner, stranger, sessionID := uuid.New(), uuid.New(), uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	_, _ = svc.Submit(context.Background(), owner, sessionID, "en-US", "first")
	_, _ = svc.Submit(context.Background(), stranger, sessionID, "en-US", "not yours")
	_, _ = svc.Submit(context.Background(), owner, sessionID, "en-US", "second")

	list, err := svc.ListSession(context.Background(), owner, sessionID, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Text != "second" || list[1].Text != "first" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestListSessionLimitCountsOnlyOwned(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewUtteranceService(repo, nil).(*utteranceService)
	owner, stranger, sessionID := uuid.New(), uuid.New(), uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	_, _ = svc.Submit(context.Background(), owner, sessionID, "en-US", "older")
	_, _ = svc.Submit(context.Background(), owner, sessionID, "en-US", "newer")
	for i := 0; i < 3; i++ {
		_, _ = svc.Submit(context.Background(), stranger, sessionID, "en-US", "noise")
	}

	list, err := svc.ListSession(context.Background(), owner, sessionID, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Text != "newer" || list[1].Text != "older" {
		t.Fatalf("newer utterances of others must not crowd out the caller's, got %+v", list)
	}
}
