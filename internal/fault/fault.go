// Package fault defines the failure taxonomy shared by every extraction tier.
// Tiers report a *Error carrying one Kind; only the orchestrator decides
// whether a kind escalates to the next tier.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	InvalidURL       Kind = "InvalidUrl"
	Timeout          Kind = "Timeout"
	Blocked          Kind = "Blocked"
	NotFound         Kind = "NotFound"
	Refused          Kind = "Refused"
	NoContent        Kind = "NoContent"
	RelayUnreachable Kind = "RelayUnreachable"
	Upstream         Kind = "Upstream"
	AllProxiesFailed Kind = "AllProxiesFailed"
	Unknown          Kind = "Unknown"
)

var messages = map[Kind]string{
	InvalidURL:       "Invalid URL format",
	Timeout:          "Request timeout - website took too long to respond",
	Blocked:          "Access denied - website blocked the request",
	NotFound:         "Website not found or unreachable",
	Refused:          "Connection refused by website",
	NoContent:        "No readable content found on the website",
	RelayUnreachable: "Relay service unreachable",
	AllProxiesFailed: "Failed to fetch website content. All proxies failed.",
	Unknown:          "Failed to fetch website content",
}

// Message returns the fixed user-facing message for k. Upstream has no fixed
// message; it falls back to the Unknown text.
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[Unknown]
}

// Error is a classified failure. Msg is what the user sees; Err keeps the
// underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Message()
}

func (e *Error) Unwrap() error { return e.Err }

// Detail renders the message with its cause, for logging.
func (e *Error) Detail() string {
	if e.Err == nil {
		return e.Error()
	}
	return fmt.Sprintf("%s: %v", e.Error(), e.Err)
}

// New returns an error of kind k with the kind's fixed message.
func New(k Kind, cause error) *Error {
	return &Error{Kind: k, Msg: k.Message(), Err: cause}
}

// FromUpstream wraps a message reported by the relay about the target site.
func FromUpstream(msg string) *Error {
	if msg == "" {
		msg = Unknown.Message()
	}
	return &Error{Kind: Upstream, Msg: msg}
}

// KindOf returns the Kind of err, or Unknown when err is not classified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err is a classified failure of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}
