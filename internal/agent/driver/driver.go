// Package driver defines PageDriver, the single external capability the
// kernel uses to control a browser page. Components never touch a
// concrete browser automation library directly; they depend on this
// interface so the underlying implementation — Playwright, raw CDP, or an
// attach-to-running-browser session — can be swapped without touching
// orchestrator, reliability, snapshot, or router code.
package driver

import (
	"context"
	"time"

	"github.com/ternlabs/tern/internal/agent/types"
)

// WaitUntil is the closed set of page-load milestones PageDriver.WaitFor
// can block on.
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitLoad             WaitUntil = "load"
)

// MouseButton is the closed set of buttons Click accepts.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// ConsoleMessage is one captured console line.
type ConsoleMessage struct {
	Level     string
	Text      string
	Timestamp time.Time
}

// NetworkError is one captured failed request.
type NetworkError struct {
	URL       string
	Status    int
	Message   string
	Timestamp time.Time
}

// PageDriver is a handle to one open browser page. Every method is a
// suspension point: implementations must return promptly on context
// cancellation rather than leaving a call in flight past its deadline.
//
// PageDriver never classifies or retries; it returns the plainest error it
// can produce, and the Reliability fabric (internal/agent/reliability)
// does the classification. A PageDriver method may legitimately return an
// error for a closed page, a detached frame, or a timeout — it must not
// panic.
type PageDriver interface {
	// Navigate loads url and waits for the given milestone.
	Navigate(ctx context.Context, url string, until WaitUntil, timeout time.Duration) error

	// CurrentURL returns the page's current address.
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the page's document title.
	Title(ctx context.Context) (string, error)

	// AccessibilityTree returns every node of the page's accessibility
	// tree, with stable refs assigned to interactive nodes. Non-interactive
	// nodes with no accessible name are permitted but the Snapshot
	// subsystem is expected to collapse them.
	AccessibilityTree(ctx context.Context) ([]types.Element, error)

	// ResolveRef returns the current bounding box and visibility of a
	// previously issued ref, or an error if the ref no longer resolves to
	// a live node (a stale-element condition).
	ResolveRef(ctx context.Context, ref string) (types.Element, error)

	// Click clicks the element referenced by ref.
	Click(ctx context.Context, ref string, button MouseButton, count int, timeout time.Duration) error

	// Type sends text to the element referenced by ref, optionally
	// pacing keystrokes by delay.
	Type(ctx context.Context, ref, text string, delay time.Duration, timeout time.Duration) error

	// Hover moves the pointer over the element referenced by ref.
	Hover(ctx context.Context, ref string, timeout time.Duration) error

	// Scroll scrolls the page by the given pixel deltas when ref == "";
	// otherwise it scrolls the referenced element into view and the deltas
	// are not applied.
	Scroll(ctx context.Context, ref string, deltaX, deltaY int) error

	// Press sends a single named key (Enter, Tab, Escape, ...) to the
	// page.
	Press(ctx context.Context, key string) error

	// Screenshot captures the viewport, or the element referenced by ref
	// when ref is non-empty, returning PNG bytes.
	Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error)

	// Evaluate runs script in the page's JavaScript context and returns
	// its JSON-serializable result.
	Evaluate(ctx context.Context, script string) (any, error)

	// WaitFor blocks until the given load-state milestone is reached, or
	// timeout elapses.
	WaitFor(ctx context.Context, until WaitUntil, timeout time.Duration) error

	// ConsoleMessages returns console output captured since the page was
	// opened or last drained, optionally filtered by level.
	ConsoleMessages(ctx context.Context, level string, drain bool) ([]ConsoleMessage, error)

	// NetworkErrors returns failed network requests captured since the
	// page was opened or last drained.
	NetworkErrors(ctx context.Context, drain bool) ([]NetworkError, error)

	// Close releases the page and any resources it owns.
	Close(ctx context.Context) error
}

