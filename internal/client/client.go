// Package client implements the line-oriented terminal client for the
// expensebridge WebSocket endpoint.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/logging"
	"github.com/Iron-Ham/expensebridge/internal/server"
)

// closeGrace bounds the wait for the server to acknowledge a close frame.
const closeGrace = 2 * time.Second

// Options configures Attach.
type Options struct {
	// URL of the server; http(s) and bare host:port forms are accepted.
	URL string
	In  io.Reader
	Out io.Writer
	// Color enables highlighted output.
	Color bool
	// Width truncates long lines; zero disables truncation.
	Width  int
	Logger *logging.Logger
}

// NormalizeURL turns raw into a WebSocket URL for the /ws endpoint.
func NormalizeURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q: %w", u.Scheme, errors.ErrInvalidInput)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q: %w", raw, errors.ErrInvalidInput)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// Attach connects to the server, opens a session and forwards each input
// line as a command. It returns nil when the input ends, the server closes
// the connection normally, or ctx is cancelled.
func Attach(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("client")

	target, err := NormalizeURL(opts.URL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", target)
	}
	defer conn.Close()
	logger.Info("connected", "url", target)

	if err := send(conn, server.EventConnectionEstablish, struct{}{}); err != nil {
		return errors.Wrap(err, "establish session")
	}

	renderer := NewRenderer(opts.Out, opts.Color, opts.Width)
	readDone := make(chan error, 1)
	go func() { readDone <- readLoop(conn, renderer) }()

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	inputDone := make(chan error, 1)
	go func() { inputDone <- scanLines(opts.In, lines, stop) }()

	for {
		select {
		case <-ctx.Done():
			closeConn(conn, readDone)
			return nil
		case err := <-readDone:
			return err
		case line := <-lines:
			if err := send(conn, server.EventCommandEntered, line); err != nil {
				return errors.Wrap(err, "send command")
			}
		case err := <-inputDone:
			closeConn(conn, readDone)
			if err != nil {
				return errors.Wrap(err, "read input")
			}
			return nil
		}
	}
}

func scanLines(in io.Reader, lines chan<- string, stop <-chan struct{}) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return nil
		}
	}
	return scanner.Err()
}

func send(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(server.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func readLoop(conn *websocket.Conn, renderer *Renderer) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read from server")
		}

		var env struct {
			Event string `json:"event"`
			Data  string `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil || env.Event != server.EventConsoleOutput {
			continue
		}
		if err := renderer.Render(env.Data); err != nil {
			return err
		}
	}
}

// closeConn sends a close frame and waits briefly for the read loop to see
// the server's reply.
func closeConn(conn *websocket.Conn, readDone <-chan error) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	select {
	case <-readDone:
	case <-time.After(closeGrace):
	}
}
