// Package session owns the one process-wide browsing context used against
// the source. Tokens are persisted across runs and refreshed through a
// single-flight challenge solve, so concurrent detectors of an invalid
// session never race duplicate solves.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"hemnet-harvester/lib/fsutil"

	"golang.org/x/sync/singleflight"
)

// Token is the credential blob every network-issuing component reads. It is
// opaque outside this package: cookies plus the user agent they were
// captured under, since the source ties clearance cookies to the agent.
type Token struct {
	Cookies    []Cookie  `json:"cookies"`
	UserAgent  string    `json:"user_agent"`
	CapturedAt time.Time `json:"captured_at"`
}

type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

func (t Token) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, len(t.Cookies))
	for i, c := range t.Cookies {
		out[i] = &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		}
	}
	return out
}

// Solver performs the full challenge-resolution flow and returns a fresh
// token. Implementations must bound their own timeout.
type Solver interface {
	Solve(ctx context.Context) (Token, error)
}

type Store struct {
	path   string
	solver Solver
	maxAge time.Duration

	group singleflight.Group
	mu    sync.Mutex
	tok   *Token
}

// NewStore loads any previously persisted token from `path`. An unreadable
// blob is discarded rather than treated as fatal: the session file is a
// cache, a fresh solve rebuilds it.
func NewStore(path string, solver Solver, maxAge time.Duration) *Store {
	s := &Store{
		path:   path,
		solver: solver,
		maxAge: maxAge,
	}

	contents, err := os.ReadFile(path)
	if err == nil {
		var tok Token
		err = json.Unmarshal(contents, &tok)
		if err != nil {
			slog.Warn("discarding unreadable session file", "path", path, "err", err)
		} else {
			s.tok = &tok
		}
	}
	return s
}

func (s *Store) alive(tok *Token) bool {
	return tok != nil && time.Since(tok.CapturedAt) < s.maxAge
}

// Get returns a valid token, reusing the cached one when it passes the
// liveness check and refreshing otherwise.
func (s *Store) Get(ctx context.Context) (Token, error) {
	s.mu.Lock()
	tok := s.tok
	s.mu.Unlock()

	if s.alive(tok) {
		return *tok, nil
	}
	return s.Refresh(ctx)
}

// Invalidate drops the cached token, but only if `stale` is still the
// current one. A worker holding a token refreshed by somebody else must not
// throw the newer token away.
func (s *Store) Invalidate(stale Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok != nil && s.tok.CapturedAt.Equal(stale.CapturedAt) {
		s.tok = nil
	}
}

// Refresh runs the challenge solver. Concurrent callers block on the first
// in-flight solve and share its result.
func (s *Store) Refresh(ctx context.Context) (Token, error) {
	v, err, _ := s.group.Do("session", func() (any, error) {
		s.mu.Lock()
		tok := s.tok
		s.mu.Unlock()
		// someone may have refreshed between the caller's check and here
		if s.alive(tok) {
			return *tok, nil
		}

		slog.Info("refreshing session")
		fresh, err := s.solver.Solve(ctx)
		if err != nil {
			return Token{}, err
		}

		s.mu.Lock()
		s.tok = &fresh
		s.mu.Unlock()

		err = s.persist(fresh)
		if err != nil {
			slog.Warn("failed to persist session", "err", err)
		}
		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

func (s *Store) persist(tok Token) error {
	contents, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(s.path, contents, 0o600)
}

var challengeMarkers = [][]byte{
	[]byte("challenge-platform"),
	[]byte("cf-browser-verification"),
	[]byte("Checking your browser"),
}

// IsChallengeResponse reports whether a response is an anti-automation
// challenge page rather than a normal answer.
func IsChallengeResponse(statusCode int, body []byte) bool {
	if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
		return true
	}
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
