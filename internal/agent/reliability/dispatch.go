package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/types"
)

const defaultActionTimeout = 5 * time.Second

// dispatch executes one ToolCall against drv. This is the fabric's single
// point of contact with PageDriver for browser-interaction tools — the
// closed ToolName enum replaces the source's duck-typed string dispatch
// (spec.md §9 REDESIGN FLAGS).
func dispatch(ctx context.Context, drv driver.PageDriver, call types.ToolCall) (any, error) {
	switch call.Name {
	case types.ToolNavigate:
		url, _ := call.Args["url"].(string)
		until := waitUntilArg(call.Args)
		return nil, drv.Navigate(ctx, url, until, defaultActionTimeout)

	case types.ToolClick:
		ref, _ := call.Args["ref"].(string)
		button := driver.ButtonLeft
		if b, ok := call.Args["button"].(string); ok && b != "" {
			button = driver.MouseButton(b)
		}
		count := 1
		if c, ok := call.Args["count"].(int); ok && c > 0 {
			count = c
		}
		return nil, drv.Click(ctx, ref, button, count, defaultActionTimeout)

	case types.ToolType:
		ref, _ := call.Args["ref"].(string)
		text, _ := call.Args["text"].(string)
		delay := time.Duration(0)
		if d, ok := call.Args["delay_ms"].(int); ok {
			delay = time.Duration(d) * time.Millisecond
		}
		return nil, drv.Type(ctx, ref, text, delay, defaultActionTimeout)

	case types.ToolHover:
		ref, _ := call.Args["ref"].(string)
		return nil, drv.Hover(ctx, ref, defaultActionTimeout)

	case types.ToolScroll:
		ref, _ := call.Args["ref"].(string)
		dx, _ := call.Args["dx"].(int)
		dy, _ := call.Args["dy"].(int)
		return nil, drv.Scroll(ctx, ref, dx, dy)

	case types.ToolPress:
		key, _ := call.Args["key"].(string)
		return nil, drv.Press(ctx, key)

	case types.ToolScreenshot:
		ref, _ := call.Args["ref"].(string)
		full, _ := call.Args["full_page"].(bool)
		return drv.Screenshot(ctx, ref, full)

	case types.ToolEvaluate:
		script, _ := call.Args["script"].(string)
		return drv.Evaluate(ctx, script)

	case types.ToolConsoleErrors:
		msgs, err := drv.ConsoleMessages(ctx, "error", false)
		return msgs, err

	case types.ToolConsoleDump:
		msgs, err := drv.ConsoleMessages(ctx, "", true)
		return msgs, err

	case types.ToolNetworkErrors:
		errs, err := drv.NetworkErrors(ctx, false)
		return errs, err

	case types.ToolExtractLinks:
		return drv.Evaluate(ctx, "__agentExtractLinks()")

	case types.ToolExtractForms:
		filter, _ := call.Args["filter"].(string)
		return drv.Evaluate(ctx, "__agentExtractForms("+quoteJS(filter)+")")

	case types.ToolExtractInputs:
		return drv.Evaluate(ctx, "__agentExtractInputs()")

	case types.ToolExtractTable:
		return drv.Evaluate(ctx, "__agentExtractTable()")

	case types.ToolParseHTML:
		raw, err := drv.Evaluate(ctx, "document.documentElement.outerHTML")
		if err != nil {
			return nil, err
		}
		src, _ := raw.(string)
		return ParseOutline(src), nil

	default:
		// attach_session, solve_captcha, and final_answer are not
		// driver-level actions: the Orchestrator handles them directly
		// (session attach reconstructs the PageDriver via a Factory, the
		// other two terminate or hand off to the CAPTCHA engine) rather
		// than routing them through Execute.
		return nil, fmt.Errorf("reliability: dispatch: unsupported tool %q", call.Name)
	}
}

func waitUntilArg(args map[string]any) driver.WaitUntil {
	if v, ok := args["wait_until"].(string); ok && v != "" {
		return driver.WaitUntil(v)
	}
	return driver.WaitDOMContentLoaded
}
