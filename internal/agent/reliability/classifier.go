// Package reliability wraps every tool call with the typed retry,
// circuit-breaker, and pre-action validation behavior the kernel needs to
// tolerate a flaky browser and a hostile page.
package reliability

import (
	"context"
	"errors"
	"strings"

	"github.com/ternlabs/tern/internal/agent/types"
)

// httpStatus is implemented by driver/model errors that carry a numeric
// status code, so the classifier can prefer it over message sniffing.
type httpStatus interface {
	StatusCode() int
}

// Classify maps any error surfaced by a PageDriver or ModelClient call to
// exactly one ErrorKind, inspecting a status code first and falling back
// to message-fragment matching.
func Classify(err error) types.ErrorKind {
	if err == nil {
		return ""
	}

	var status httpStatus
	if errors.As(err, &status) {
		if kind, ok := classifyStatus(status.StatusCode()); ok {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTransientTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, m := range classifierTable {
		for _, kw := range m.keywords {
			if strings.Contains(msg, kw) {
				return m.kind
			}
		}
	}
	return types.ErrUnknown
}

func classifyStatus(code int) (types.ErrorKind, bool) {
	switch {
	case code == 401 || code == 403:
		return types.ErrAuthRequired, true
	case code == 404:
		return types.ErrNotFound4xx, true
	case code == 429:
		return types.ErrRateLimit, true
	case code >= 500 && code < 600:
		return types.ErrServer5xx, true
	default:
		return "", false
	}
}

type classifierEntry struct {
	kind     types.ErrorKind
	keywords []string
}

// classifierTable is checked top to bottom; more specific kinds are listed
// before generic ones so a message matching both picks the specific kind.
var classifierTable = []classifierEntry{
	{types.ErrCaptcha, []string{"captcha", "recaptcha", "hcaptcha", "are you human", "verify you are human"}},
	{types.ErrRateLimit, []string{"rate limit", "rate_limit", "too many requests", "throttle", "throttling", "slow down"}},
	{types.ErrAuthRequired, []string{"authentication", "unauthorized", "api key", "invalid credentials", "sign in required", "login required"}},
	{types.ErrConnectionReset, []string{"connection reset", "econnreset", "broken pipe", "connection refused"}},
	{types.ErrPageCrash, []string{"page crashed", "target crashed", "session closed", "browser has disconnected", "frame detached"}},
	{types.ErrStaleElement, []string{"stale element", "node is detached", "element is not attached", "no longer exists"}},
	{types.ErrSelectorMissing, []string{"no element matches", "selector resolved to no", "could not find ref", "unknown ref", "ref not found", "locator not found"}},
	{types.ErrObstruction, []string{"intercepts pointer events", "element is not visible", "element is outside of the viewport", "obstructed by"}},
	{types.ErrServer5xx, []string{"internal server error", "bad gateway", "service unavailable", "gateway timeout"}},
	{types.ErrTransientTimeout, []string{"timeout", "timed out", "deadline exceeded", "context deadline", "etimedout"}},
	{types.ErrNotFound4xx, []string{"not found", "404"}},
}
