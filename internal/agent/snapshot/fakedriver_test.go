package snapshot

import (
	"context"
	"time"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// fakeDriver is a minimal driver.PageDriver stub for snapshot tests. Only
// the methods Generate/Cache actually call are implemented meaningfully;
// the rest return zero values and nil errors.
type fakeDriver struct {
	url   string
	title string
	tree  []types.Element
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, until driver.WaitUntil, timeout time.Duration) error {
	panic("not implemented")
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeDriver) Title(ctx context.Context) (string, error)      { return f.title, nil }
func (f *fakeDriver) AccessibilityTree(ctx context.Context) ([]types.Element, error) {
	return f.tree, nil
}
func (f *fakeDriver) ResolveRef(ctx context.Context, ref string) (types.Element, error) {
	for _, el := range f.tree {
		if el.Ref == ref {
			return el, nil
		}
	}
	return types.Element{}, errNotFound
}
func (f *fakeDriver) Click(ctx context.Context, ref string, button driver.MouseButton, count int, timeout time.Duration) error {
	panic("not implemented")
}
func (f *fakeDriver) Type(ctx context.Context, ref, text string, delay, timeout time.Duration) error {
	panic("not implemented")
}
func (f *fakeDriver) Hover(ctx context.Context, ref string, timeout time.Duration) error {
	panic("not implemented")
}
func (f *fakeDriver) Scroll(ctx context.Context, ref string, dx, dy int) error { panic("not implemented") }
func (f *fakeDriver) Press(ctx context.Context, key string) error             { panic("not implemented") }
func (f *fakeDriver) Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error) {
	panic("not implemented")
}
func (f *fakeDriver) Evaluate(ctx context.Context, script string) (any, error) {
	panic("not implemented")
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

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "ref not found" }
