// Package session enforces the one-live-connection-per-identity rule.
package session

import (
	"sync"

	"go.uber.org/zap"
)

// Registry tracks which usernames currently hold a live connection.
// Register is an atomic test-and-set, so two simultaneous logins under
// the same username cannot both succeed.
type Registry struct {
	mu     sync.Mutex
	live   map[string]struct{}
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		live:   make(map[string]struct{}),
		logger: logger,
	}
}

// Register claims the username. It returns false if a session for that
// username already exists.
func (r *Registry) Register(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[username]; ok {
		return false
	}
	r.live[username] = struct{}{}
	r.logger.Debug("session registered", zap.String("username", username))
	return true
}

// Release drops the username's session. It is idempotent: the explicit
// LOGOUT path and the socket-close cleanup path may both call it.
func (r *Registry) Release(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[username]; ok {
		delete(r.live, username)
		r.logger.Debug("session released", zap.String("username", username))
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Usernames returns a snapshot of the live usernames.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.live))
	for name := range r.live {
		names = append(names, name)
	}
	return names
}
