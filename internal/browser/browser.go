// Package browser drives a Chromium instance over the DevTools protocol.
// The monitoring loop talks to the marketplace through a real browser page
// so that every API call carries the session's cookies, user agent and TLS
// fingerprint, and qualifying tickets are opened as new tabs in the same
// browser for the operator to complete the purchase.
package browser

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultCallTimeout = 30 * time.Second

// Cookie is a cookie installed into the browser session at bootstrap.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Config holds browser bootstrap settings.
type Config struct {
	// ChromePath overrides binary discovery. When empty, common Chrome and
	// Chromium binary names are tried on PATH.
	ChromePath string

	// DebuggerURL attaches to an already-running browser's DevTools
	// endpoint (e.g. "http://127.0.0.1:9222") instead of launching one.
	DebuggerURL string

	Headless  bool
	UserAgent string

	// StartURL is navigated to after setup to establish the session.
	StartURL string
	Cookies  []Cookie
}

// FetchRequest describes an HTTP request to execute from inside the page.
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResult is the response of an in-page fetch.
type FetchResult struct {
	Status int    `json:"status"`
	Body   []byte `json:"-"`
}

// OK reports whether the response status is 2xx.
func (r *FetchResult) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Browser is a DevTools connection with one attached page session.
// Launch (or attach) it once at startup; Close releases everything.
type Browser struct {
	cfg  Config
	cmd  *exec.Cmd // nil when attached to an external browser
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu        sync.Mutex
	nextID    int64
	pending   map[int64]chan rpcReply
	closed    bool
	readDone  chan struct{}
	sessionID string
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Launch starts (or attaches to) a browser, opens a fresh page, installs the
// configured user agent and cookies, and navigates to the start URL. Any
// failure here is fatal for the process: the monitor must not start without
// an established session.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	var (
		wsURL string
		cmd   *exec.Cmd
		err   error
	)
	if cfg.DebuggerURL != "" {
		wsURL, err = debuggerWSURL(ctx, cfg.DebuggerURL)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve debugger: %w", err)
		}
		log.Printf("[browser] attaching to %s", cfg.DebuggerURL)
	} else {
		cmd, wsURL, err = launchChrome(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if cmd != nil {
			cmd.Process.Kill()
		}
		return nil, fmt.Errorf("browser: dial devtools: %w", err)
	}

	b := &Browser{
		cfg:      cfg,
		cmd:      cmd,
		conn:     conn,
		pending:  make(map[int64]chan rpcReply),
		readDone: make(chan struct{}),
	}
	go b.readLoop()

	if err := b.setupPage(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("browser: session setup: %w", err)
	}
	log.Printf("[browser] session established (headless=%v)", cfg.Headless)
	return b, nil
}

// setupPage creates a page target, attaches to it, and applies user agent,
// cookies and the start navigation.
func (b *Browser) setupPage(ctx context.Context) error {
	res, err := b.call(ctx, "", "Target.createTarget", map[string]any{"url": "about:blank"})
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	var created struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(res, &created); err != nil {
		return fmt.Errorf("create target: decode: %w", err)
	}

	res, err = b.call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": created.TargetID,
		"flatten":  true,
	})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(res, &attached); err != nil {
		return fmt.Errorf("attach: decode: %w", err)
	}
	b.mu.Lock()
	b.sessionID = attached.SessionID
	b.mu.Unlock()

	if b.cfg.UserAgent != "" {
		if _, err := b.call(ctx, attached.SessionID, "Network.setUserAgentOverride", map[string]any{
			"userAgent": b.cfg.UserAgent,
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}
	for _, c := range b.cfg.Cookies {
		if _, err := b.call(ctx, attached.SessionID, "Network.setCookie", map[string]any{
			"name":   c.Name,
			"value":  c.Value,
			"domain": c.Domain,
			"path":   c.Path,
		}); err != nil {
			return fmt.Errorf("set cookie %s: %w", c.Name, err)
		}
	}
	if b.cfg.StartURL != "" {
		if _, err := b.call(ctx, attached.SessionID, "Page.navigate", map[string]any{
			"url": b.cfg.StartURL,
		}); err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		// Give the page a moment to settle so fetch() runs on-origin.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil
}

// Fetch executes an HTTP request from inside the attached page via an
// awaited fetch() expression, returning status and raw body.
func (b *Browser) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	spec, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("browser: encode fetch request: %w", err)
	}
	expr := fmt.Sprintf(`(async () => {
	const req = %s;
	const resp = await fetch(req.url, {
		method: req.method || 'GET',
		headers: req.headers || {},
		body: req.body || undefined,
	});
	const text = await resp.text();
	return JSON.stringify({status: resp.status, body: text});
})()`, spec)

	value, err := b.evaluate(ctx, expr)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal([]byte(value), &wire); err != nil {
		return nil, fmt.Errorf("browser: decode fetch result: %w", err)
	}
	return &FetchResult{Status: wire.Status, Body: []byte(wire.Body)}, nil
}

// evaluate runs a JS expression in the page and returns its string value.
func (b *Browser) evaluate(ctx context.Context, expr string) (string, error) {
	b.mu.Lock()
	session := b.sessionID
	b.mu.Unlock()

	res, err := b.call(ctx, session, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"awaitPromise":  true,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	var eval struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(res, &eval); err != nil {
		return "", fmt.Errorf("browser: decode evaluate: %w", err)
	}
	if eval.ExceptionDetails != nil {
		msg := eval.ExceptionDetails.Text
		if eval.ExceptionDetails.Exception != nil && eval.ExceptionDetails.Exception.Description != "" {
			msg = eval.ExceptionDetails.Exception.Description
		}
		return "", fmt.Errorf("browser: page exception: %s", msg)
	}
	var value string
	if err := json.Unmarshal(eval.Result.Value, &value); err != nil {
		return "", fmt.Errorf("browser: evaluate returned %s, want string", eval.Result.Type)
	}
	return value, nil
}

// OpenPage opens the URL as a new foreground tab in the same browser.
// Implements the core's PageOpener port.
func (b *Browser) OpenPage(ctx context.Context, url string) error {
	_, err := b.call(ctx, "", "Target.createTarget", map[string]any{"url": url})
	if err != nil {
		return fmt.Errorf("browser: open page: %w", err)
	}
	return nil
}

// call performs one DevTools request/response round trip.
func (b *Browser) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("browser: connection closed")
	}
	b.nextID++
	id := b.nextID
	ch := make(chan rpcReply, 1)
	b.pending[id] = ch
	b.mu.Unlock()

	msg := map[string]any{"id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}

	b.writeMu.Lock()
	err := b.conn.WriteJSON(msg)
	b.writeMu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("browser: write %s: %w", method, err)
	}

	timer := time.NewTimer(defaultCallTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, ctx.Err()
	case <-timer.C:
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("browser: %s timed out", method)
	case reply := <-ch:
		return reply.result, reply.err
	}
}

// readLoop dispatches DevTools responses to pending callers. Protocol
// events (messages without an id) are ignored; the monitor only uses
// request/response commands.
func (b *Browser) readLoop() {
	defer close(b.readDone)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			b.failPending(fmt.Errorf("browser: connection lost: %w", err))
			return
		}
		var msg struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == 0 {
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		delete(b.pending, msg.ID)
		b.mu.Unlock()
		if !ok {
			continue
		}
		if msg.Error != nil {
			ch <- rpcReply{err: fmt.Errorf("browser: devtools error %d: %s", msg.Error.Code, msg.Error.Message)}
		} else {
			ch <- rpcReply{result: msg.Result}
		}
	}
}

func (b *Browser) failPending(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.pending {
		ch <- rpcReply{err: err}
		delete(b.pending, id)
	}
}

// Close shuts the browser down: best-effort Browser.close for a launched
// instance, then the websocket, then the process.
func (b *Browser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if b.cmd != nil {
		b.call(ctx, "", "Browser.close", nil)
	}

	b.mu.Lock()
	alreadyClosed := b.closed
	b.closed = true
	b.mu.Unlock()

	if !alreadyClosed {
		b.writeMu.Lock()
		b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
	}
	err := b.conn.Close()

	if b.cmd != nil {
		done := make(chan struct{})
		go func() {
			b.cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			b.cmd.Process.Kill()
			<-done
		}
	}
	log.Println("[browser] closed")
	return err
}

var devtoolsLine = regexp.MustCompile(`DevTools listening on (ws://\S+)`)

// launchChrome starts a Chromium process with remote debugging on an
// ephemeral port and scrapes the websocket URL from its stderr.
func launchChrome(ctx context.Context, cfg Config) (*exec.Cmd, string, error) {
	bin, err := chromeBinary(cfg.ChromePath)
	if err != nil {
		return nil, "", err
	}

	profile, err := os.MkdirTemp("", "twicketbot-chrome-")
	if err != nil {
		return nil, "", fmt.Errorf("profile dir: %w", err)
	}

	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + profile,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}

	cmd := exec.Command(bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, "", err
	}
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start %s: %w", bin, err)
	}
	log.Printf("[browser] launched %s (pid %d)", bin, cmd.Process.Pid)

	urlCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if m := devtoolsLine.FindStringSubmatch(scanner.Text()); m != nil {
				urlCh <- m[1]
				break
			}
		}
		// Keep draining so the child never blocks on a full stderr pipe.
		io.Copy(io.Discard, stderr)
	}()

	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		return nil, "", ctx.Err()
	case <-time.After(20 * time.Second):
		cmd.Process.Kill()
		return nil, "", errors.New("timed out waiting for DevTools endpoint")
	case wsURL := <-urlCh:
		return cmd, wsURL, nil
	}
}

// chromeBinary resolves the browser binary: explicit path first, then
// common names on PATH.
func chromeBinary(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidates := []string{
		"google-chrome", "google-chrome-stable",
		"chromium", "chromium-browser", "chrome",
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no browser binary found (tried %s)", strings.Join(candidates, ", "))
}

// debuggerWSURL asks a running browser's /json/version endpoint for its
// websocket debugger URL.
func debuggerWSURL(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(base, "/")+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("decode /json/version: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", errors.New("debugger reported no websocket URL")
	}
	return version.WebSocketDebuggerURL, nil
}
