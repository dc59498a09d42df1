package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ternlabs/tern/internal/agent/captcha"
	"github.com/ternlabs/tern/internal/agent/sitememory"
	"github.com/ternlabs/tern/internal/agent/snapshot"
	"github.com/ternlabs/tern/internal/agent/types"
)

// defaultActionTimeout bounds the direct driver.Type call the CAPTCHA
// answer-submission path makes outside the Reliability fabric.
const defaultActionTimeout = 5 * time.Second

// executeTool is the loop's single point of contact with "doing
// something": special-cased orchestrator-only tools (snapshot, CAPTCHA
// solving) are handled here directly; everything else goes through the
// Reliability fabric, with a site-memory reuse fallback when a selector
// goes stale or missing and the model supplied a human description of the
// target (spec.md §4.6's reuse path).
func (o *Orchestrator) executeTool(ctx context.Context, call types.ToolCall) types.ActionResult {
	switch call.Name {
	case types.ToolSnapshot:
		return o.executeSnapshot(ctx, call)
	case types.ToolSolveCaptcha:
		return o.executeCaptcha(ctx, call)
	case types.ToolAttachSession:
		return o.executeAttach(ctx, call)
	default:
		result := o.cfg.Fabric.Execute(ctx, o.cfg.Driver, call)
		if !result.Success && needsSiteMemoryReuse(result.ErrorKind) {
			if retried, attempted := o.tryReuse(ctx, call); attempted {
				return retried
			}
		}
		return result
	}
}

func needsSiteMemoryReuse(kind types.ErrorKind) bool {
	return kind == types.ErrSelectorMissing || kind == types.ErrStaleElement
}

func (o *Orchestrator) executeSnapshot(ctx context.Context, call types.ToolCall) types.ActionResult {
	opts := snapshot.Options{}
	if v, ok := call.Args["scope"].(string); ok {
		opts.Scope = v
	}
	if v, ok := call.Args["exclude"].([]string); ok {
		opts.Exclude = v
	}
	if v, ok := call.Args["diff"].(bool); ok {
		opts.Diff = v
	}
	if v, ok := call.Args["force"].(bool); ok {
		opts.Force = v
	}

	snap, diff, err := o.cfg.Cache.Get(ctx, o.cfg.Driver, opts)
	if err != nil {
		return types.ActionResult{Success: false, ErrorKind: types.ErrUnknown, Reason: err.Error()}
	}
	if opts.Diff {
		return types.ActionResult{Success: true, Data: snapshot.RenderDiff(diff)}
	}
	return types.ActionResult{Success: true, Data: snapshot.Render(snap)}
}

func (o *Orchestrator) executeCaptcha(ctx context.Context, call types.ToolCall) types.ActionResult {
	if o.cfg.Captcha == nil {
		return types.ActionResult{Success: false, ErrorKind: types.ErrCaptcha, Reason: "no CAPTCHA engine configured"}
	}

	ref, _ := call.Args["ref"].(string)
	shot := o.cfg.Fabric.Execute(ctx, o.cfg.Driver, types.ToolCall{
		Name: types.ToolScreenshot,
		Args: map[string]any{"ref": ref},
	})
	if !shot.Success {
		return shot
	}
	image, ok := shot.Data.([]byte)
	if !ok {
		return types.ActionResult{Success: false, ErrorKind: types.ErrCaptcha, Reason: "screenshot did not return image bytes"}
	}

	captchaType := captcha.TypeText
	if v, ok := call.Args["captcha_type"].(string); ok && v != "" {
		captchaType = captcha.Type(v)
	}

	result, err := o.cfg.Captcha.Evaluate(ctx, image, captchaType, 1)
	if err != nil {
		return types.ActionResult{Success: false, ErrorKind: types.ErrCaptcha, Reason: err.Error()}
	}

	if result.Action == captcha.ActionSubmit || result.Action == captcha.ActionSubmitRetryOnReject {
		if answerRef, ok := call.Args["answer_ref"].(string); ok && answerRef != "" {
			if err := o.cfg.Driver.Type(ctx, answerRef, result.Answer, 0, defaultActionTimeout); err != nil {
				return types.ActionResult{Success: false, ErrorKind: types.ErrCaptcha, Data: result, Reason: err.Error()}
			}
		}
	}

	return types.ActionResult{Success: true, Data: result}
}

// tryReuse attempts the site-memory selector-reuse path for one failed
// interaction call. attempted=false means there was no usable memory to
// try, so the caller should surface the original fabric failure instead.
func (o *Orchestrator) tryReuse(ctx context.Context, call types.ToolCall) (types.ActionResult, bool) {
	desc, _ := call.Args["description"].(string)
	if desc == "" || o.cfg.SiteMemory == nil {
		return types.ActionResult{}, false
	}
	action := actionForTool(call.Name)
	if action == "" {
		return types.ActionResult{}, false
	}

	url, err := o.cfg.Driver.CurrentURL(ctx)
	if err != nil {
		return types.ActionResult{}, false
	}
	mem, found := o.cfg.SiteMemory.FindMemory(url, desc)
	if !found || !sitememory.Usable(mem, o.cfg.AgentConfig.MinSelectorConfidence) {
		return types.ActionResult{}, false
	}

	candidate, ok := sitememory.Reuse(mem, resolverFor(ctx, o.cfg.Driver))
	if !ok {
		_ = o.cfg.SiteMemory.RecordUse(ctx, mem.URLPattern, desc, false)
		return types.ActionResult{}, false
	}

	text, _ := call.Args["text"].(string)
	success, actErr := actOnSelector(ctx, o.cfg.Driver, candidate, action, text)
	_ = o.cfg.SiteMemory.RecordUse(ctx, mem.URLPattern, desc, success)

	if actErr != nil || !success {
		reason := "site-memory reuse failed"
		if actErr != nil {
			reason = actErr.Error()
		}
		return types.ActionResult{Success: false, ErrorKind: types.ErrSelectorMissing, Reason: reason}, true
	}
	return types.ActionResult{Success: true, Data: candidate.Value}, true
}

// executeAttach swaps the run's page for one inside an externally running
// browser (the user's own session, with its cookies and logins). The
// router's session-reuse trigger supplies the port as a string; the
// configured AGENT_DEBUG_BROWSER_PORT is the fallback.
func (o *Orchestrator) executeAttach(ctx context.Context, call types.ToolCall) types.ActionResult {
	if o.cfg.AttachSession == nil {
		return types.ActionResult{
			Success:   false,
			ErrorKind: types.ErrUnknown,
			Reason:    "attach_session is not available: no attach capability was configured",
		}
	}

	port := o.cfg.AgentConfig.DebugBrowserPort
	switch v := call.Args["port"].(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	case int:
		port = v
	case float64:
		port = int(v)
	}
	if port == 0 {
		return types.ActionResult{
			Success:   false,
			ErrorKind: types.ErrUnknown,
			Reason:    "attach_session: no debug port given and AGENT_DEBUG_BROWSER_PORT is unset",
		}
	}

	page, err := o.cfg.AttachSession(ctx, port)
	if err != nil {
		return types.ActionResult{
			Success:   false,
			ErrorKind: types.ErrConnectionReset,
			Reason:    fmt.Sprintf("attach_session: %v", err),
		}
	}

	o.cfg.Driver = page
	o.cfg.Fabric.ResetPage()
	return types.ActionResult{Success: true, Data: fmt.Sprintf("attached to browser on debug port %d", port)}
}
