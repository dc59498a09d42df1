package reliability

import (
	"context"
	"errors"
	"time"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// fakeDriver is a scriptable driver.PageDriver stub for fabric tests.
type fakeDriver struct {
	url string

	navigateErrs []error // consumed in order; remaining calls succeed
	clickErrs    []error

	elements map[string]types.Element
	evalFn   func(script string) (any, error)

	resolveCalls int
	pressCalls   int
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, until driver.WaitUntil, timeout time.Duration) error {
	if len(f.navigateErrs) > 0 {
		err := f.navigateErrs[0]
		f.navigateErrs = f.navigateErrs[1:]
		return err
	}
	return nil
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeDriver) Title(ctx context.Context) (string, error)      { return "", nil }
func (f *fakeDriver) AccessibilityTree(ctx context.Context) ([]types.Element, error) {
	return nil, nil
}
func (f *fakeDriver) ResolveRef(ctx context.Context, ref string) (types.Element, error) {
	f.resolveCalls++
	el, ok := f.elements[ref]
	if !ok {
		return types.Element{}, errors.New("stale element: node is detached from document")
	}
	return el, nil
}
func (f *fakeDriver) Click(ctx context.Context, ref string, button driver.MouseButton, count int, timeout time.Duration) error {
	if len(f.clickErrs) > 0 {
		err := f.clickErrs[0]
		f.clickErrs = f.clickErrs[1:]
		return err
	}
	return nil
}
func (f *fakeDriver) Type(ctx context.Context, ref, text string, delay, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) Hover(ctx context.Context, ref string, timeout time.Duration) error { return nil }
func (f *fakeDriver) Scroll(ctx context.Context, ref string, dx, dy int) error            { return nil }
func (f *fakeDriver) Press(ctx context.Context, key string) error {
	f.pressCalls++
	return nil
}
func (f *fakeDriver) Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error) {
	return nil, nil
}
func (f *fakeDriver) Evaluate(ctx context.Context, script string) (any, error) {
	if f.evalFn != nil {
		return f.evalFn(script)
	}
	return nil, errors.New("no evaluate script wired")
}
func (f *fakeDriver) WaitFor(ctx context.Context, until driver.WaitUntil, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) ConsoleMessages(ctx context.Context, level string, drain bool) ([]driver.ConsoleMessage, error) {
	return nil, nil
}
func (f *fakeDriver) NetworkErrors(ctx context.Context, drain bool) ([]driver.NetworkError, error) {
	return nil, nil
}
func (f *fakeDriver) Close(ctx context.Context) error { return nil }

// fakeClock never actually sleeps, so retry tests run instantly.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time      { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }
