// Package auth provides the session collaborator of the medfit front ends:
// a reloadable directory of API tokens and the signed-in sessions created from them.
package auth

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
)

// User is an account allowed to sign in.
type User struct {
	Email string `toml:"email" json:"email"`
	Token string `toml:"token" json:"-"`
}

// Session is a signed-in user.
type Session struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Directory holds the users that may sign in. It is safe for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	users []User
}

// NewDirectory creates a Directory with the given users.
func NewDirectory(users []User) *Directory {
	d := &Directory{}
	d.Replace(users)
	return d
}

// Replace swaps the full user list. Users without a token are ignored.
func (d *Directory) Replace(users []User) {
	kept := make([]User, 0, len(users))
	for _, u := range users {
		if u.Token != "" {
			kept = append(kept, u)
		}
	}

	d.mu.Lock()
	d.users = kept
	d.mu.Unlock()
}

// Authenticate returns the user owning token.
func (d *Directory) Authenticate(token string) (User, bool) {
	if token == "" {
		return User{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		found User
		ok    bool
	)
	// Compare against every entry so timing does not depend on the match position.
	for _, u := range d.users {
		if subtle.ConstantTimeCompare([]byte(u.Token), []byte(token)) == 1 {
			found, ok = u, true
		}
	}
	return found, ok
}

// Has reports whether a user with the given email is present.
func (d *Directory) Has(email string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// Manager creates and revokes sessions.
type Manager struct {
	dir    *Directory
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	sessions  map[string]Session
	onSignOut []func(Session)
}

// NewManager creates a Manager authenticating against dir.
func NewManager(dir *Directory, logger *zap.Logger) *Manager {
	return &Manager{
		dir:      dir,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// OnSignOut registers fn to be called whenever a session ends, including
// sessions revoked by Reload.
func (m *Manager) OnSignOut(fn func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSignOut = append(m.onSignOut, fn)
}

// SignIn exchanges an API token for a new session.
func (m *Manager) SignIn(token string) (Session, error) {
	user, ok := m.dir.Authenticate(token)
	if !ok {
		m.logger.Warn("sign in rejected")
		return Session{}, ErrInvalidCredentials
	}

	s := Session{ID: uuid.NewString(), Email: user.Email, CreatedAt: m.now()}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("signed in", zap.String("email", s.Email), zap.String("session", s.ID))
	return s, nil
}

// Lookup returns the session with the given ID.
func (m *Manager) Lookup(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SignOut ends the session with the given ID.
func (m *Manager) SignOut(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	hooks := append([]func(Session){}, m.onSignOut...)
	m.mu.Unlock()

	m.logger.Info("signed out", zap.String("email", s.Email), zap.String("session", s.ID))
	for _, fn := range hooks {
		fn(s)
	}
	return nil
}

// Reload replaces the directory users and revokes sessions of users that were removed.
func (m *Manager) Reload(users []User) {
	m.dir.Replace(users)

	m.mu.Lock()
	var revoked []string
	for id, s := range m.sessions {
		if !m.dir.Has(s.Email) {
			revoked = append(revoked, id)
		}
	}
	m.mu.Unlock()

	m.logger.Info("auth directory reloaded",
		zap.Int("users", m.dir.Len()),
		zap.Int("revoked_sessions", len(revoked)),
	)
	for _, id := range revoked {
		_ = m.SignOut(id)
	}
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
