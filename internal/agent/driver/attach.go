package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Factory hands out PageDriver pages. Both concrete adapters
// (playwrightdriver, cdpdriver) implement it; the CLI and the
// attach_session tool only ever see this interface.
type Factory interface {
	NewPage(ctx context.Context) (PageDriver, error)
	Close() error
}

const attachProbeTimeout = 3 * time.Second

// versionInfo is the subset of /json/version a debug-port browser reports.
type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DebugEndpoint probes an externally running browser's remote-debugging
// port and returns its websocket debugger URL. This is the attach path
// behind AGENT_DEBUG_BROWSER_PORT: instead of launching a browser, the
// agent joins the one already open (with the user's cookies and logins).
func DebugEndpoint(ctx context.Context, port int) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, attachProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", port)
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("driver: no browser listening on debug port %d: %w", port, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("driver: debug port %d answered %s", port, resp.Status)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("driver: decode /json/version from port %d: %w", port, err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("driver: port %d reports no webSocketDebuggerUrl (browser: %q)", port, info.Browser)
	}
	return info.WebSocketDebuggerURL, nil
}

// VerifyEndpoint dials wsURL once and hangs up, confirming the debugger
// socket accepts connections before a Factory is pointed at it.
func VerifyEndpoint(ctx context.Context, wsURL string) error {
	dialCtx, cancel := context.WithTimeout(ctx, attachProbeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("driver: dial debugger socket %s: %w", wsURL, err)
	}
	return conn.Close()
}

// Attach resolves and verifies the debugger endpoint for port.
func Attach(ctx context.Context, port int) (string, error) {
	wsURL, err := DebugEndpoint(ctx, port)
	if err != nil {
		return "", err
	}
	if err := VerifyEndpoint(ctx, wsURL); err != nil {
		return "", err
	}
	return wsURL, nil
}
