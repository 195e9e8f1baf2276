// Package portal drives a third-party order-entry site through one
// browser-automation context per order.
package portal

import (
	"context"
	"errors"
)

// Portal failure taxonomy. Only the orchestrator decides
// retry-vs-escalate; this layer just classifies.
var (
	// ErrElementNotFound: every candidate selector was exhausted.
	// Retryable up to the order's bound.
	ErrElementNotFound = errors.New("no candidate selector matched")
	// ErrAuthenticationFailed: the portal rejected the credentials.
	// Fatal, never retried.
	ErrAuthenticationFailed = errors.New("portal authentication failed")
	// ErrTransientNavigation: a page load or redirect failed in a way a
	// fresh session may recover from.
	ErrTransientNavigation = errors.New("transient portal navigation failure")
)

// Driver abstracts the underlying browser automation so the orchestrator
// and tests run against fakes while production runs Chrome DevTools.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// DriverFactory opens a fresh automation context. The orchestrator calls it
// once per attempt so a retry never reuses a wedged browser.
type DriverFactory func(ctx context.Context) (Driver, error)
