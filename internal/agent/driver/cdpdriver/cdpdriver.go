// Package cdpdriver implements driver.PageDriver directly over the Chrome
// DevTools Protocol via github.com/chromedp/chromedp and
// github.com/chromedp/cdproto. It is the kernel's second PageDriver
// adapter, proving the contract is genuinely swappable: the same
// Orchestrator/Reliability/Router code runs unmodified against either
// this driver or driver/playwrightdriver.
package cdpdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

// Factory launches a chromedp allocator/browser context and hands out
// Driver pages, one per chromedp tab.
type Factory struct {
	DebugBrowserPort int // attach to an existing remote-debugging port, if set
	Headless         bool

	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewPage allocates a fresh chromedp tab wrapped as a driver.PageDriver.
func (f *Factory) NewPage(ctx context.Context) (driver.PageDriver, error) {
	if f.allocCtx == nil {
		if f.DebugBrowserPort != 0 {
			f.allocCtx, f.allocCancel = chromedp.NewRemoteAllocator(ctx,
				fmt.Sprintf("ws://127.0.0.1:%d", f.DebugBrowserPort))
		} else {
			opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", f.Headless))
			f.allocCtx, f.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
		}
	}

	tabCtx, _ := chromedp.NewContext(f.allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		return nil, fmt.Errorf("cdpdriver: open tab: %w", err)
	}
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(cctx context.Context) error {
		_, err := cdppage.AddScriptToEvaluateOnNewDocument(driver.AgentScript).Do(cctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("cdpdriver: install page helpers: %w", err)
	}

	return &Driver{ctx: tabCtx, refMap: make(map[int]cdp.BackendNodeID)}, nil
}

// Close releases the allocator and every tab it owns.
func (f *Factory) Close() error {
	if f.allocCancel != nil {
		f.allocCancel()
	}
	return nil
}

// Driver adapts one chromedp tab context to driver.PageDriver.
type Driver struct {
	ctx context.Context

	refMu  sync.RWMutex
	refMap map[int]cdp.BackendNodeID
	nextRef int

	closed bool
}

func (d *Driver) Navigate(ctx context.Context, url string, until driver.WaitUntil, timeout time.Duration) error {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	return wrap("navigate", chromedp.Run(runCtx, chromedp.Navigate(url), chromedp.WaitReady("body")))
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := chromedp.Run(d.ctx, chromedp.Location(&url)); err != nil {
		return "", wrap("current-url", err)
	}
	return url, nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	var title string
	if err := chromedp.Run(d.ctx, chromedp.Title(&title)); err != nil {
		return "", wrap("title", err)
	}
	return title, nil
}

func (d *Driver) AccessibilityTree(ctx context.Context) ([]types.Element, error) {
	var nodes []*accessibility.Node
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := accessibility.GetFullAXTree().Do(ctx)
		if err != nil {
			return err
		}
		nodes = tree
		return nil
	}))
	if err != nil {
		return nil, wrap("accessibility-tree", err)
	}

	d.refMu.Lock()
	d.refMap = make(map[int]cdp.BackendNodeID)
	d.nextRef = 1
	d.refMu.Unlock()

	var elements []types.Element
	d.walkAXNodes(nodes, nodes, &elements)
	return elements, nil
}

func (d *Driver) walkAXNodes(roots, all []*accessibility.Node, out *[]types.Element) {
	for _, node := range roots {
		if node == nil || node.Ignored {
			continue
		}
		role, name := axRole(node), axName(node)
		if isInteractiveAXRole(role) && node.BackendDOMNodeID != 0 {
			d.refMu.Lock()
			ref := d.nextRef
			d.nextRef++
			d.refMap[ref] = node.BackendDOMNodeID
			d.refMu.Unlock()

			*out = append(*out, types.Element{
				Ref: fmt.Sprintf("e%d", ref), Role: role, Name: name, Visible: true,
			})
		}
		if len(node.ChildIDs) > 0 {
			d.walkAXNodes(findAXChildren(all, node.ChildIDs), all, out)
		}
	}
}

func (d *Driver) ResolveRef(ctx context.Context, ref string) (types.Element, error) {
	backendID, ok := d.lookupRef(ref)
	if !ok {
		return types.Element{}, fmt.Errorf("resolve ref: %s not found", ref)
	}
	box, err := d.boxModel(backendID)
	if err != nil {
		return types.Element{}, fmt.Errorf("resolve ref: %s stale: %w", ref, err)
	}
	return types.Element{Ref: ref, X: box.X, Y: box.Y, W: box.W, H: box.H, Visible: true}, nil
}

func (d *Driver) Click(ctx context.Context, ref string, button driver.MouseButton, count int, timeout time.Duration) error {
	selector, err := d.nodeSelector(ref)
	if err != nil {
		return err
	}
	return wrap("click", chromedp.Run(d.ctx, chromedp.WaitVisible(selector, chromedp.ByNodeID), chromedp.Click(selector, chromedp.ByNodeID)))
}

func (d *Driver) Type(ctx context.Context, ref, text string, delay time.Duration, timeout time.Duration) error {
	selector, err := d.nodeSelector(ref)
	if err != nil {
		return err
	}
	return wrap("type", chromedp.Run(d.ctx,
		chromedp.WaitVisible(selector, chromedp.ByNodeID),
		chromedp.Clear(selector, chromedp.ByNodeID),
		chromedp.SendKeys(selector, text, chromedp.ByNodeID)))
}

func (d *Driver) Hover(ctx context.Context, ref string, timeout time.Duration) error {
	selector, err := d.nodeSelector(ref)
	if err != nil {
		return err
	}
	return wrap("hover", chromedp.Run(d.ctx, chromedp.ScrollIntoView(selector, chromedp.ByNodeID), chromedp.MouseHoverNode(selector, chromedp.ByNodeID)))
}

func (d *Driver) Scroll(ctx context.Context, ref string, deltaX, deltaY int) error {
	if ref != "" {
		selector, err := d.nodeSelector(ref)
		if err != nil {
			return err
		}
		return wrap("scroll", chromedp.Run(d.ctx, chromedp.ScrollIntoView(selector, chromedp.ByNodeID)))
	}
	var discard any
	return wrap("scroll", chromedp.Run(d.ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%d, %d)", deltaX, deltaY), &discard)))
}

func (d *Driver) Press(ctx context.Context, key string) error {
	return wrap("press", chromedp.Run(d.ctx, chromedp.KeyEvent(key)))
}

func (d *Driver) Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error) {
	var buf []byte
	var err error
	if ref != "" {
		selector, serr := d.nodeSelector(ref)
		if serr != nil {
			return nil, serr
		}
		err = chromedp.Run(d.ctx, chromedp.Screenshot(selector, &buf, chromedp.ByNodeID))
	} else if fullPage {
		err = chromedp.Run(d.ctx, chromedp.FullScreenshot(&buf, 100))
	} else {
		err = chromedp.Run(d.ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, wrap("screenshot", err)
	}
	return buf, nil
}

func (d *Driver) Evaluate(ctx context.Context, script string) (any, error) {
	// The on-new-document script only covers documents loaded after the
	// tab was opened; re-evaluating the guarded helper bundle covers a
	// page that was already open (e.g. an attached debug-port session).
	if strings.HasPrefix(script, "__agent") {
		var installed bool
		if err := chromedp.Run(d.ctx, chromedp.Evaluate(driver.AgentScript, &installed)); err != nil {
			return nil, wrap("install page helpers", err)
		}
	}
	var result any
	if err := chromedp.Run(d.ctx, chromedp.Evaluate(script, &result)); err != nil {
		return nil, wrap("evaluate", err)
	}
	return result, nil
}

func (d *Driver) WaitFor(ctx context.Context, until driver.WaitUntil, timeout time.Duration) error {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()
	return wrap("wait-for", chromedp.Run(runCtx, chromedp.WaitReady("body")))
}

func (d *Driver) ConsoleMessages(ctx context.Context, level string, drain bool) ([]driver.ConsoleMessage, error) {
	return nil, nil
}

func (d *Driver) NetworkErrors(ctx context.Context, drain bool) ([]driver.NetworkError, error) {
	return nil, nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.refMu.Lock()
	defer d.refMu.Unlock()
	d.closed = true
	return nil
}

func (d *Driver) lookupRef(ref string) (cdp.BackendNodeID, bool) {
	var n int
	if _, err := fmt.Sscanf(ref, "e%d", &n); err != nil {
		return 0, false
	}
	d.refMu.RLock()
	defer d.refMu.RUnlock()
	id, ok := d.refMap[n]
	return id, ok
}

type box struct{ X, Y, W, H float64 }

func (d *Driver) boxModel(backendID cdp.BackendNodeID) (box, error) {
	var nodeIDs []cdp.NodeID
	var model *dom.BoxModel
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		nodeIDs, err = dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backendID}).Do(ctx)
		if err != nil || len(nodeIDs) == 0 {
			return fmt.Errorf("node not resolvable")
		}
		model, err = dom.GetBoxModel().WithNodeID(nodeIDs[0]).Do(ctx)
		return err
	}))
	if err != nil || model == nil || len(model.Content) < 8 {
		return box{}, fmt.Errorf("box model unavailable")
	}
	minX := minOf(model.Content[0], model.Content[2], model.Content[4], model.Content[6])
	maxX := maxOf(model.Content[0], model.Content[2], model.Content[4], model.Content[6])
	minY := minOf(model.Content[1], model.Content[3], model.Content[5], model.Content[7])
	maxY := maxOf(model.Content[1], model.Content[3], model.Content[5], model.Content[7])
	return box{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, nil
}

func (d *Driver) resolveNodeID(ref string) (cdp.BackendNodeID, cdp.NodeID, error) {
	backendID, ok := d.lookupRef(ref)
	if !ok {
		return 0, 0, fmt.Errorf("ref %s not found", ref)
	}
	var nodeIDs []cdp.NodeID
	err := chromedp.Run(d.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		nodeIDs, err = dom.PushNodesByBackendIDsToFrontend([]cdp.BackendNodeID{backendID}).Do(ctx)
		return err
	}))
	if err != nil || len(nodeIDs) == 0 {
		return 0, 0, fmt.Errorf("ref %s stale", ref)
	}
	return backendID, nodeIDs[0], nil
}

// nodeSelector resolves ref to a chromedp *cdp.NodeID selector expressed
// through chromedp.ByNodeID's expected []cdp.NodeID argument form; chromedp
// actions that take chromedp.ByNodeID accept a []cdp.NodeID as sel.
func (d *Driver) nodeSelector(ref string) ([]cdp.NodeID, error) {
	_, nodeID, err := d.resolveNodeID(ref)
	if err != nil {
		return nil, err
	}
	return []cdp.NodeID{nodeID}, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cdpdriver: %s: %w", op, err)
}

func axRole(node *accessibility.Node) string {
	if node.Role == nil {
		return ""
	}
	return fmt.Sprintf("%v", node.Role.Value)
}

func axName(node *accessibility.Node) string {
	if node.Name == nil || node.Name.Value == nil {
		return ""
	}
	return fmt.Sprintf("%v", node.Name.Value)
}

func isInteractiveAXRole(role string) bool {
	switch role {
	case "button", "link", "textbox", "checkbox", "radio", "combobox",
		"listbox", "option", "menuitem", "menuitemcheckbox", "menuitemradio",
		"tab", "slider", "spinbutton", "switch", "searchbox", "textarea":
		return true
	default:
		return false
	}
}

func findAXChildren(all []*accessibility.Node, ids []accessibility.NodeID) []*accessibility.Node {
	idSet := make(map[accessibility.NodeID]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var out []*accessibility.Node
	for _, n := range all {
		if n != nil && idSet[n.NodeID] {
			out = append(out, n)
		}
	}
	return out
}

func minOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals ...float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
