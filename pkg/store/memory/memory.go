// Package memory is the in-process Store used when no database is
// configured.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havenline/havenline/pkg/store"
)

type Store struct {
	now func() time.Time

	mu       sync.Mutex
	bySessID map[string][]store.Message
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		now:      time.Now,
		bySessID: make(map[string][]store.Message),
	}
}

func (s *Store) AppendMessage(ctx context.Context, msg store.Message) (store.Message, error) {
	if strings.TrimSpace(msg.SessionID) == "" {
		return store.Message{}, fmt.Errorf("append message: session id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySessID[msg.SessionID] = append(s.bySessID[msg.SessionID], msg)
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.bySessID[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]store.Message(nil), msgs...), nil
}

func (s *Store) Close() {}
