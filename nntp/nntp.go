// Package nntp defines the wire contract the rest of the engine speaks
// against: a small session interface for posting and retrieving
// articles. This package intentionally does not speak TLS,
// TCP, or yEnc; a concrete transport lives behind the Session
// interface, and nntp/inprocess provides an in-memory implementation
// used by tests and local-loopback operation.
package nntp

import (
	"context"
	"time"
)

// Headers is the set of article header fields. Posted articles carry
// From, Newsgroups, Subject, Message-ID, Date, and Content-Type, and
// never custom X- headers that encode identity or folder info.
type Headers map[string]string

// Article is a posted or retrieved NNTP article: headers plus an
// opaque, already transport-encoded body.
type Article struct {
	Headers Headers
	Body    []byte
}

// ErrorClass categorizes a wire-level failure so callers can decide
// whether to retry.
type ErrorClass uint8

const (
	// ClassTransient covers network drops, pool exhaustion, and 4xx
	// temporary-failure responses: safe to retry with backoff.
	ClassTransient ErrorClass = iota
	// ClassPermanent covers malformed articles and 5xx responses:
	// the article or request will never succeed as-is.
	ClassPermanent
	// ClassAuthRequired covers credential rejection.
	ClassAuthRequired
	// ClassNotFound covers a missing article (no such message-id).
	ClassNotFound
)

// WireError wraps a transport failure with its retry classification.
type WireError struct {
	Class   ErrorClass
	Message string
}

func (e *WireError) Error() string { return e.Message }

// Session is one authenticated connection to an NNTP provider. The
// engine never holds a Session beyond a single pool acquisition's
// lifetime.
type Session interface {
	// SelectGroup switches the session's current newsgroup.
	SelectGroup(ctx context.Context, name string) error
	// Post submits a new article. headers["Message-ID"] and
	// headers["Subject"] must already be set by the caller.
	Post(ctx context.Context, headers Headers, body []byte) error
	// Article retrieves a full article by Message-ID.
	Article(ctx context.Context, messageID string) (*Article, error)
	// Head retrieves only the headers of an article by Message-ID,
	// used for cheap existence checks.
	Head(ctx context.Context, messageID string) (Headers, error)
	// Quit closes the session's underlying connection. Idempotent.
	Quit(ctx context.Context) error
}

// Dialer opens new sessions against one configured provider. Pool
// implementations hold a Dialer, not a Session, so they can create
// sessions lazily.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// NewArticleHeaders builds the minimal required header set for a
// posted segment article.
func NewArticleHeaders(from, newsgroup, subject, messageID string, date time.Time) Headers {
	return Headers{
		"From":         from,
		"Newsgroups":   newsgroup,
		"Subject":      subject,
		"Message-ID":   messageID,
		"Date":         date.UTC().Format(time.RFC1123Z),
		"Content-Type": "application/octet-stream",
	}
}
