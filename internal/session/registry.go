// Package session keeps one upload form per browser session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/anime-shed/emotion-detect-go/internal/logger"
	"github.com/anime-shed/emotion-detect-go/internal/upload"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Factory builds the form for a new session
type Factory func() *upload.Controller

type entry struct {
	form     *upload.Controller
	lastSeen time.Time
}

// Registry maps session IDs to forms and tears down idle ones
type Registry struct {
	newForm     Factory
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a registry evicting forms unused for idleTimeout
func NewRegistry(newForm Factory, idleTimeout time.Duration) *Registry {
	return &Registry{
		newForm:     newForm,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*entry),
	}
}

// NewID returns a fresh session ID
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id looks like an ID from NewID
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Get returns the form for id, creating it on first use
func (r *Registry) Get(id string) *upload.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		e = &entry{form: r.newForm()}
		r.sessions[id] = e
		logger.WithField("session_id", id).Debug("Created upload form")
	}
	e.lastSeen = r.now()
	return e.form
}

// Len reports the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict closes forms idle for longer than the timeout. Forms with a request
// in flight are kept until the request returns.
func (r *Registry) Evict(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var expired []*upload.Controller
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) && !e.form.Loading() {
			expired = append(expired, e.form)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, form := range expired {
		form.Close(ctx)
	}
	if len(expired) > 0 {
		logger.WithFields(logrus.Fields{
			"evicted":   len(expired),
			"remaining": r.Len(),
		}).Info("Evicted idle upload forms")
	}
	return len(expired)
}

// Run evicts idle forms until ctx is done
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(ctx)
		}
	}
}

// CloseAll tears down every form
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	forms := make([]*upload.Controller, 0, len(r.sessions))
	for id, e := range r.sessions {
		forms = append(forms, e.form)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, form := range forms {
		form.Close(ctx)
	}
}
