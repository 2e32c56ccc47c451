package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
)

// MemoryStore keeps verification sessions in memory, indexed both by session
// ID and by the provider's external ID.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]kyc.Session
	byExternal map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[uuid.UUID]kyc.Session),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Save(_ context.Context, session kyc.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[session.ID] = session
	s.byExternal[session.ExternalSessionID] = session.ID
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (kyc.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok {
		return kyc.Session{}, sentinel.ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) FindByExternalID(_ context.Context, externalID string) (kyc.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return kyc.Session{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

// Transition moves a CREATED session to `to`. A session already in a terminal
// state is returned unchanged with applied=false; the first transition wins.
func (s *MemoryStore) Transition(_ context.Context, externalID string, to kyc.Status, at time.Time) (kyc.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return kyc.Session{}, false, sentinel.ErrNotFound
	}
	session := s.byID[id]
	if session.Status.Terminal() {
		return session, false, nil
	}
	if !to.Terminal() {
		return session, false, sentinel.ErrInvalidState
	}

	session.Status = to
	session.UpdatedAt = at
	s.byID[id] = session
	return session, true, nil
}
