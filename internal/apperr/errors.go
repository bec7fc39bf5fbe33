// Package apperr defines the failure taxonomy shared by the code host client,
// the context assembler and the streaming relay.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindHTTP              Kind = "http_error"
	KindMalformed         Kind = "malformed_response"
	KindQuery             Kind = "query_error"
	KindNotFound          Kind = "not_found"
	KindPermissionMissing Kind = "permission_missing"
	KindConfigMissing     Kind = "config_missing"
)

// ExcerptChars bounds the response body excerpt carried by HTTP errors.
const ExcerptChars = 180

// Error is a classified failure. Op names the operation that failed
// (e.g. "GitHub GraphQL", "PR diff").
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Excerpt string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	switch e.Kind {
	case KindHTTP:
		fmt.Fprintf(&b, "HTTP %d", e.Status)
		if e.Message != "" {
			b.WriteString(" ")
			b.WriteString(e.Message)
		}
		if e.Excerpt != "" {
			b.WriteString(": ")
			b.WriteString(e.Excerpt)
		}
	default:
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		if e.Op != "" {
			// "GitHub GraphQL: unknown error"
			return strings.TrimSpace(b.String()) + ": " + msg
		}
		b.WriteString(msg)
	}
	return strings.TrimSpace(b.String())
}

func (e *Error) Unwrap() error { return e.Err }

// HTTP builds a KindHTTP error. statusText is the reason phrase, body is cut
// to maxExcerpt characters (ExcerptChars when maxExcerpt <= 0).
func HTTP(op string, status int, statusText, body string, maxExcerpt int) *Error {
	if maxExcerpt <= 0 {
		maxExcerpt = ExcerptChars
	}
	excerpt := strings.TrimSpace(body)
	if r := []rune(excerpt); len(r) > maxExcerpt {
		excerpt = string(r[:maxExcerpt])
	}
	return &Error{Kind: KindHTTP, Op: op, Status: status, Message: statusText, Excerpt: excerpt}
}

func Malformed(op string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Message: "invalid JSON response", Err: err}
}

func Query(op, message string) *Error {
	if message == "" {
		message = "unknown error"
	}
	return &Error{Kind: KindQuery, Op: op, Message: message}
}

func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func PermissionMissing(origin string) *Error {
	return &Error{Kind: KindPermissionMissing, Message: "Missing host permission: " + origin}
}

func ConfigMissing(message string) *Error {
	return &Error{Kind: KindConfigMissing, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
