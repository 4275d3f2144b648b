package reconnect

import (
	"context"
	"sync"
	"time"
)

// Entry is a prepared reconnection waiting for user confirmation. The
// access token is stored encrypted, same as on the item itself.
type Entry struct {
	ID                   string    `json:"id"`
	ItemID               string    `json:"itemId"`
	UserID               int64     `json:"userId"`
	EncryptedAccessToken string    `json:"-"`
	ExternalItemID       string    `json:"externalItemId"`
	InstitutionID        string    `json:"institutionId"`
	InstitutionName      string    `json:"institutionName"`
	CreatedAt            time.Time `json:"createdAt"`
	ExpiresAt            time.Time `json:"expiresAt"`
}

// Expired reports whether the entry's confirmation window has closed.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stash stores prepared reconnections until they are confirmed, cancelled
// or expire. Get must not return expired entries.
type Stash interface {
	Put(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	Delete(ctx context.Context, id string) error

	// PurgeExpired drops entries past their expiry, returning the count.
	PurgeExpired(ctx context.Context) (int64, error)
}

// MemoryStash is an in-process Stash for tests and single-node deployments.
type MemoryStash struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemoryStash creates an empty in-memory stash.
func NewMemoryStash() *MemoryStash {
	return &MemoryStash{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (s *MemoryStash) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryStash) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	if entry.Expired(s.now()) {
		delete(s.entries, id)
		return nil, nil
	}
	return entry, nil
}

func (s *MemoryStash) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStash) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var purged int64
	for id, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}
