package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session ties one owner to one live connection. It holds no transport
// state; the gateway owns the socket, the registry owns the bookkeeping.
type Session struct {
	ID             string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	ConnectionID   string    `json:"connection_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry is the single owner of session state. Callers get clones; the
// only mutations go through Create/Touch/End and the janitor sweep.
type Registry struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewRegistry(inactivityTimeout time.Duration) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Registry{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Create(ownerID, connectionID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConnectionID:   connectionID,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return clone(s)
}

// Get returns the session, or ErrNotFound. A session idle past the
// inactivity timeout is ended on the spot and reported as not found, so
// expired sessions are unreachable even between janitor sweeps.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().UTC().Sub(s.LastActivityAt) > r.inactivityTimeout {
		s.Status = StatusEnded
		delete(r.sessions, sessionID)
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch bumps the activity timestamp. Missing sessions are a no-op error
// so dispatch paths can ignore it.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
	return nil
}

// End marks the session ended and removes it. Ending twice is a no-op.
func (r *Registry) End(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	delete(r.sessions, sessionID)
	return clone(s), nil
}

// StartJanitor sweeps idle sessions on a fixed interval until ctx ends.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) <= r.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		delete(r.sessions, id)
		expired = append(expired, clone(s))
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
