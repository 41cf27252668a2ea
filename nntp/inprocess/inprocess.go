// Package inprocess provides an in-memory nntp.Session/nntp.Dialer
// pair, standing in for a real provider in tests and local-loopback
// operation: an append-only article log keyed by Message-ID.
package inprocess

import (
	"context"
	"sync"

	"veilnet.io/nntp"
)

// Server is a shared in-memory article store. Multiple Dialer values
// can point at the same Server to simulate one upstream provider.
type Server struct {
	mu       sync.RWMutex
	articles map[string]nntp.Article
	// AuthToken, if set, is required of every Dialer pointed at this
	// server; a mismatching token fails Dial with ClassAuthRequired.
	AuthToken string
}

// NewServer returns an empty article store.
func NewServer() *Server {
	return &Server{articles: make(map[string]nntp.Article)}
}

// Dialer opens Sessions against one Server.
type Dialer struct {
	Server    *Server
	AuthToken string
}

func (d *Dialer) Dial(ctx context.Context) (nntp.Session, error) {
	if d.Server.AuthToken != "" && d.AuthToken != d.Server.AuthToken {
		return nil, &nntp.WireError{Class: nntp.ClassAuthRequired, Message: "bad credentials"}
	}
	return &session{server: d.Server}, nil
}

type session struct {
	server *Server
	group  string
	quit   bool
}

func (s *session) SelectGroup(ctx context.Context, name string) error {
	s.group = name
	return nil
}

func (s *session) Post(ctx context.Context, headers nntp.Headers, body []byte) error {
	id := headers["Message-ID"]
	if id == "" {
		return &nntp.WireError{Class: nntp.ClassPermanent, Message: "missing Message-ID"}
	}
	hcopy := make(nntp.Headers, len(headers))
	for k, v := range headers {
		hcopy[k] = v
	}
	bcopy := append([]byte(nil), body...)

	s.server.mu.Lock()
	defer s.server.mu.Unlock()
	if _, exists := s.server.articles[id]; exists {
		return &nntp.WireError{Class: nntp.ClassPermanent, Message: "duplicate Message-ID"}
	}
	s.server.articles[id] = nntp.Article{Headers: hcopy, Body: bcopy}
	return nil
}

func (s *session) Article(ctx context.Context, messageID string) (*nntp.Article, error) {
	s.server.mu.RLock()
	defer s.server.mu.RUnlock()
	a, ok := s.server.articles[messageID]
	if !ok {
		return nil, &nntp.WireError{Class: nntp.ClassNotFound, Message: "no such article: " + messageID}
	}
	cp := a
	cp.Body = append([]byte(nil), a.Body...)
	return &cp, nil
}

func (s *session) Head(ctx context.Context, messageID string) (nntp.Headers, error) {
	a, err := s.Article(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return a.Headers, nil
}

func (s *session) Quit(ctx context.Context) error {
	s.quit = true
	return nil
}
