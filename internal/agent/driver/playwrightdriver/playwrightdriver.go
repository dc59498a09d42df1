// Package playwrightdriver implements driver.PageDriver over
// github.com/playwright-community/playwright-go. It is the kernel's
// primary PageDriver adapter.
package playwrightdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// Factory launches (or connects to) a Chromium instance and hands out
// Driver pages. One Factory owns one playwright.Playwright runtime.
type Factory struct {
	once sync.Once
	pw   *playwright.Playwright
	pwErr error

	// CDPEndpoint, when non-empty, makes NewPage connect to an already
	// running browser instead of launching one (AGENT_DEBUG_BROWSER_PORT).
	CDPEndpoint string
	Headless    bool

	browser playwright.Browser
}

// NewPage launches (on first call) or reuses a Chromium browser and
// returns a fresh page wrapped as a driver.PageDriver.
func (f *Factory) NewPage(ctx context.Context) (driver.PageDriver, error) {
	f.once.Do(func() {
		if err := playwright.Install(); err != nil {
			f.pwErr = fmt.Errorf("playwrightdriver: install browsers: %w", err)
			return
		}
		pw, err := playwright.Run()
		if err != nil {
			f.pwErr = fmt.Errorf("playwrightdriver: start playwright: %w", err)
			return
		}
		f.pw = pw
	})
	if f.pwErr != nil {
		return nil, f.pwErr
	}

	if f.browser == nil {
		var err error
		if f.CDPEndpoint != "" {
			f.browser, err = f.pw.Chromium.ConnectOverCDP(f.CDPEndpoint)
		} else {
			f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
				Headless: playwright.Bool(f.Headless),
			})
		}
		if err != nil {
			return nil, fmt.Errorf("playwrightdriver: connect browser: %w", err)
		}
	}

	bctx, err := f.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("playwrightdriver: new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("playwrightdriver: new page: %w", err)
	}
	if err := page.AddInitScript(playwright.Script{Content: playwright.String(driver.AgentScript)}); err != nil {
		return nil, fmt.Errorf("playwrightdriver: install page helpers: %w", err)
	}

	d := &Driver{page: page, refs: newRefCache()}
	installListeners(d)
	return d, nil
}

// Close shuts down the browser and the playwright runtime.
func (f *Factory) Close() error {
	if f.browser != nil {
		_ = f.browser.Close()
	}
	if f.pw != nil {
		return f.pw.Stop()
	}
	return nil
}

// Driver adapts one playwright.Page to driver.PageDriver.
type Driver struct {
	mu     sync.RWMutex
	page   playwright.Page
	refs   *refCache
	closed bool

	console []driver.ConsoleMessage
	network []driver.NetworkError
}

func (d *Driver) Navigate(ctx context.Context, url string, until driver.WaitUntil, timeout time.Duration) error {
	if d.isClosed() {
		return fmt.Errorf("playwrightdriver: page closed")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitState(until),
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	d.refs.Clear()
	return nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	if d.isClosed() {
		return "", fmt.Errorf("playwrightdriver: page closed")
	}
	return d.page.URL(), nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	if d.isClosed() {
		return "", fmt.Errorf("playwrightdriver: page closed")
	}
	return d.page.Title()
}

func (d *Driver) AccessibilityTree(ctx context.Context) ([]types.Element, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("playwrightdriver: page closed")
	}
	d.refs.Clear()

	snapshot, err := d.page.Locator("body").AriaSnapshot()
	if err != nil {
		return nil, fmt.Errorf("accessibility tree: %w", err)
	}
	return parseAriaSnapshot(snapshot, d.refs), nil
}

func (d *Driver) ResolveRef(ctx context.Context, ref string) (types.Element, error) {
	if d.isClosed() {
		return types.Element{}, fmt.Errorf("playwrightdriver: page closed")
	}
	roleRef := d.refs.Get(ref)
	if roleRef == nil {
		return types.Element{}, fmt.Errorf("resolve ref: %s not found", ref)
	}
	loc := d.page.Locator(roleRef.Selector)
	box, err := loc.BoundingBox()
	if err != nil || box == nil {
		return types.Element{}, fmt.Errorf("resolve ref: %s stale: %w", ref, err)
	}
	visible, _ := loc.IsVisible()
	return types.Element{
		Ref: ref, Role: roleRef.Role, Name: roleRef.Name,
		X: box.X, Y: box.Y, W: box.Width, H: box.Height, Visible: visible,
	}, nil
}

func (d *Driver) Click(ctx context.Context, ref string, button driver.MouseButton, count int, timeout time.Duration) error {
	selector, err := d.selectorFor(ref)
	if err != nil {
		return err
	}
	if count == 0 {
		count = 1
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return wrap("click", d.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Button:     mouseButton(button),
		ClickCount: playwright.Int(count),
		Timeout:    playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (d *Driver) Type(ctx context.Context, ref, text string, delay time.Duration, timeout time.Duration) error {
	selector, err := d.selectorFor(ref)
	if err != nil {
		return err
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	opts := playwright.LocatorTypeOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))}
	if delay > 0 {
		opts.Delay = playwright.Float(float64(delay.Milliseconds()))
	}
	return wrap("type", d.page.Locator(selector).Type(text, opts))
}

func (d *Driver) Hover(ctx context.Context, ref string, timeout time.Duration) error {
	selector, err := d.selectorFor(ref)
	if err != nil {
		return err
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return wrap("hover", d.page.Locator(selector).Hover(playwright.LocatorHoverOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (d *Driver) Scroll(ctx context.Context, ref string, deltaX, deltaY int) error {
	if ref != "" {
		selector, err := d.selectorFor(ref)
		if err != nil {
			return err
		}
		return wrap("scroll", d.page.Locator(selector).ScrollIntoViewIfNeeded())
	}
	_, err := d.page.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", deltaX, deltaY))
	return wrap("scroll", err)
}

func (d *Driver) Press(ctx context.Context, key string) error {
	if d.isClosed() {
		return fmt.Errorf("playwrightdriver: page closed")
	}
	return wrap("press", d.page.Keyboard().Press(key))
}

func (d *Driver) Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("playwrightdriver: page closed")
	}
	if ref != "" {
		selector, err := d.selectorFor(ref)
		if err != nil {
			return nil, err
		}
		return d.page.Locator(selector).Screenshot()
	}
	return d.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)})
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("playwrightdriver: page closed")
	}
	// The init script only covers documents loaded after page creation;
	// re-evaluating the guarded helper bundle covers a page that was
	// already open (e.g. an attached debug-port session).
	if strings.HasPrefix(script, "__agent") {
		if _, err := d.page.Evaluate(driver.AgentScript); err != nil {
			return nil, fmt.Errorf("playwrightdriver: install page helpers: %w", err)
		}
	}
	return d.page.Evaluate(script)
}

func (d *Driver) WaitFor(ctx context.Context, until driver.WaitUntil, timeout time.Duration) error {
	if d.isClosed() {
		return fmt.Errorf("playwrightdriver: page closed")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return wrap("wait", d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   loadState(until),
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (d *Driver) ConsoleMessages(ctx context.Context, level string, drain bool) ([]driver.ConsoleMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []driver.ConsoleMessage
	for _, m := range d.console {
		if level == "" || m.Level == level {
			out = append(out, m)
		}
	}
	if drain {
		d.console = nil
	}
	return out, nil
}

func (d *Driver) NetworkErrors(ctx context.Context, drain bool) ([]driver.NetworkError, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]driver.NetworkError(nil), d.network...)
	if drain {
		d.network = nil
	}
	return out, nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.page.Close()
}

func (d *Driver) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *Driver) selectorFor(ref string) (string, error) {
	if d.isClosed() {
		return "", fmt.Errorf("playwrightdriver: page closed")
	}
	roleRef := d.refs.Get(ref)
	if roleRef == nil {
		return "", fmt.Errorf("selector: ref %s not found", ref)
	}
	return roleRef.Selector, nil
}

func installListeners(d *Driver) {
	d.page.OnConsole(func(msg playwright.ConsoleMessage) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.console = append(d.console, driver.ConsoleMessage{Level: msg.Type(), Text: msg.Text(), Timestamp: time.Now()})
		if len(d.console) > 200 {
			d.console = d.console[len(d.console)-200:]
		}
	})
	d.page.OnPageError(func(err error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.network = append(d.network, driver.NetworkError{Message: err.Error(), Timestamp: time.Now()})
		if len(d.network) > 200 {
			d.network = d.network[len(d.network)-200:]
		}
	})
	d.page.OnClose(func(playwright.Page) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.closed = true
	})
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func waitState(u driver.WaitUntil) *playwright.WaitUntilState {
	switch u {
	case driver.WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case driver.WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return playwright.WaitUntilStateLoad
	}
}

func loadState(u driver.WaitUntil) *playwright.LoadState {
	switch u {
	case driver.WaitDOMContentLoaded:
		return playwright.LoadStateDomcontentloaded
	case driver.WaitNetworkIdle:
		return playwright.LoadStateNetworkidle
	default:
		return playwright.LoadStateLoad
	}
}

func mouseButton(b driver.MouseButton) *playwright.MouseButton {
	switch b {
	case driver.ButtonRight:
		return playwright.MouseButtonRight
	case driver.ButtonMiddle:
		return playwright.MouseButtonMiddle
	default:
		return playwright.MouseButtonLeft
	}
}

// refCache mirrors the teacher's RefCache (internal/browser/session.go):
// refs of the form "e" plus eight random hex characters, keyed by
// role+name+nth so repeated lookups within one snapshot resolve to the
// same selector.
type refCache struct {
	mu         sync.RWMutex
	refs       map[string]*roleRef
	bySelector map[string]string
	next       int
}

type roleRef struct {
	Ref      string
	Role     string
	Name     string
	Selector string
}

func newRefCache() *refCache {
	return &refCache{refs: make(map[string]*roleRef), bySelector: make(map[string]string), next: 1}
}

func (c *refCache) Get(ref string) *roleRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refs[ref]
}

func (c *refCache) GetOrCreate(role, name string, nth int) *roleRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	selector := buildSelector(role, name, nth)
	if id, ok := c.bySelector[selector]; ok {
		return c.refs[id]
	}
	id := "e" + uuid.New().String()[:8]
	ref := &roleRef{Ref: id, Role: role, Name: name, Selector: selector}
	c.refs[id] = ref
	c.bySelector[selector] = id
	return ref
}

func (c *refCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = make(map[string]*roleRef)
	c.bySelector = make(map[string]string)
	c.next = 1
}

func buildSelector(role, name string, nth int) string {
	selector := fmt.Sprintf("role=%s", role)
	if name != "" {
		selector += fmt.Sprintf("[name=%q]", name)
	}
	if nth > 1 {
		selector += fmt.Sprintf(" >> nth=%d", nth-1)
	}
	return selector
}
