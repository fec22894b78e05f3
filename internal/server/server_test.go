package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/expense"
	"github.com/Iron-Ham/expensebridge/internal/gateway"
	"github.com/Iron-Ham/expensebridge/internal/logging"
	"github.com/Iron-Ham/expensebridge/internal/testutil"
)

type testServer struct {
	*httptest.Server
	gw *gateway.Gateway
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	gw := gateway.New(testutil.NewPipeSpawner(t))
	t.Cleanup(gw.Shutdown)

	if cfg.StaticDir == "" {
		cfg.StaticDir = t.TempDir()
	}
	hs := httptest.NewServer(New(cfg, gw, nil).Handler())
	t.Cleanup(hs.Close)
	return &testServer{Server: hs, gw: gw}
}

// wsClient collects console_output frames from one connection.
type wsClient struct {
	conn *websocket.Conn

	mu   sync.Mutex
	msgs []string
	done chan struct{}
}

func dial(t *testing.T, ts *testServer, header http.Header) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)

	c := &wsClient{conn: conn, done: make(chan struct{})}
	go c.read()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *wsClient) read() {
	defer close(c.done)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Event string `json:"event"`
			Data  string `json:"data"`
		}
		if json.Unmarshal(frame, &env) != nil || env.Event != EventConsoleOutput {
			continue
		}
		c.mu.Lock()
		c.msgs = append(c.msgs, env.Data)
		c.mu.Unlock()
	}
}

func (c *wsClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *wsClient) send(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

func (c *wsClient) waitFor(t *testing.T, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, m := range c.messages() {
			if m == want {
				return true
			}
		}
		return false
	}, testutil.DefaultWait, 10*time.Millisecond, "never received %q; got %q", want, c.messages())
}

func (c *wsClient) waitForText(t *testing.T, substr string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return strings.Contains(strings.Join(c.messages(), ""), substr)
	}, testutil.DefaultWait, 10*time.Millisecond, "output never contained %q", substr)
}

func TestWebSocket_ConnectAndCommand(t *testing.T) {
	ts := newTestServer(t, Config{})
	c := dial(t, ts, nil)

	c.send(t, EventConnectionEstablish, map[string]any{})
	c.waitFor(t, gateway.MsgWelcome)
	c.waitForText(t, expense.Banner)
	assert.Equal(t, gateway.MsgWelcome, c.messages()[0])

	c.send(t, EventCommandEntered, "add 12.50 food lunch")
	c.waitFor(t, "Expense added successfully: 12.5 food - lunch\n")

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("view")))
	c.waitFor(t, "Current expenses:\n")
}

func TestWebSocket_CommandBeforeEstablish(t *testing.T) {
	ts := newTestServer(t, Config{})
	c := dial(t, ts, nil)

	c.send(t, EventCommandEntered, "view")
	c.waitFor(t, gateway.MsgNoSession)
	assert.Zero(t, ts.gw.Sessions())
}

func TestWebSocket_CloseDisconnects(t *testing.T) {
	ts := newTestServer(t, Config{})
	c := dial(t, ts, nil)

	c.send(t, EventConnectionEstablish, nil)
	c.waitForText(t, expense.Banner)
	require.Equal(t, 1, ts.gw.Sessions())

	require.NoError(t, c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = c.conn.Close()

	assert.Eventually(t, func() bool { return ts.gw.Sessions() == 0 },
		testutil.DefaultWait, 10*time.Millisecond)
}

func TestWebSocket_SessionsAreIsolated(t *testing.T) {
	ts := newTestServer(t, Config{})
	a := dial(t, ts, nil)
	b := dial(t, ts, nil)

	a.send(t, EventConnectionEstablish, nil)
	b.send(t, EventConnectionEstablish, nil)
	a.waitForText(t, expense.Banner)
	b.waitForText(t, expense.Banner)
	assert.Equal(t, 2, ts.gw.Sessions())

	a.send(t, EventCommandEntered, "add 3 coffee latte")
	a.waitFor(t, "Expense added successfully: 3.0 coffee - latte\n")

	b.send(t, EventCommandEntered, "view")
	b.waitFor(t, "No expenses to show.\n")
	for _, m := range b.messages() {
		assert.NotContains(t, m, "coffee")
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"http://allowed.example"}})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	c := dial(t, ts, http.Header{"Origin": {"http://allowed.example"}})
	c.send(t, EventConnectionEstablish, nil)
	c.waitFor(t, gateway.MsgWelcome)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{})
	c := dial(t, ts, nil)
	c.send(t, EventConnectionEstablish, nil)
	c.waitForText(t, expense.Banner)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
}

func TestStaticRoutes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>tracker</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	ts := newTestServer(t, Config{StaticDir: dir})

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "tracker")

	code, body = get("/static/app.js")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "console.log(1)", body)

	code, _ = get("/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Config{AllowedOrigins: []string{"http://allowed.example"}})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://allowed.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://allowed.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "OPTIONS")
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:5000", Config{Host: "0.0.0.0", Port: 5000}.Addr())
}

func TestLogEventError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "nil",
			err:  nil,
		},
		{
			name: "no session",
			err: errors.NewSessionError("command rejected", errors.ErrNoActiveSession).
				WithSeverity(errors.SeverityWarning),
			want: []string{`"level":"DEBUG"`, `"msg":"event rejected"`, `"severity":"warning"`},
		},
		{
			name: "duplicate connect",
			err:  errors.NewSessionError("connect rejected", errors.ErrSessionExists),
			want: []string{`"level":"DEBUG"`, `"msg":"event rejected"`, `"severity":"error"`},
		},
		{
			name: "write failure",
			err: errors.NewSessionError("command rejected",
				errors.NewProcessError("write failed", io.ErrClosedPipe).WithPID(42)),
			want: []string{`"level":"WARN"`, `"msg":"event failed"`, `"event":"command_entered"`, "pid=42"},
		},
		{
			name: "plain error",
			err:  io.ErrUnexpectedEOF,
			want: []string{`"level":"WARN"`, `"msg":"event failed"`, "unexpected EOF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf testutil.SyncBuffer
			logEventError(logging.New(&buf, "debug"), EventCommandEntered, tt.err)

			if tt.want == nil {
				assert.Empty(t, buf.String())
				return
			}
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestWebSocket_RejectedCommandIsTraced(t *testing.T) {
	var buf testutil.SyncBuffer
	gw := gateway.New(testutil.NewPipeSpawner(t))
	t.Cleanup(gw.Shutdown)
	hs := httptest.NewServer(New(Config{StaticDir: t.TempDir()}, gw, logging.New(&buf, "debug")).Handler())
	t.Cleanup(hs.Close)

	c := dial(t, &testServer{Server: hs, gw: gw}, nil)
	c.send(t, EventCommandEntered, "view")
	c.waitFor(t, gateway.MsgNoSession)

	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"msg":"event rejected"`)
	}, testutil.DefaultWait, 10*time.Millisecond, "log: %s", buf.String())
	assert.NotContains(t, buf.String(), `"msg":"event failed"`)
}
