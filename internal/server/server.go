// Package server exposes the gateway over WebSocket and serves the static
// browser client.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/expensebridge/internal/errors"
	"github.com/Iron-Ham/expensebridge/internal/gateway"
	"github.com/Iron-Ham/expensebridge/internal/logging"
)

const (
	// DefaultPingInterval matches the heartbeat the browser client expects.
	DefaultPingInterval = 25 * time.Second
	// DefaultPongTimeout is how long a silent client is kept before disconnect.
	DefaultPongTimeout = 60 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Config holds the transport settings.
type Config struct {
	Host           string
	Port           int
	StaticDir      string
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) allowAny() bool {
	return len(c.AllowedOrigins) == 0 || slices.Contains(c.AllowedOrigins, "*")
}

func (c Config) allows(origin string) bool {
	return c.allowAny() || slices.Contains(c.AllowedOrigins, origin)
}

// Server binds WebSocket connections to gateway sessions.
type Server struct {
	cfg      Config
	gw       *gateway.Gateway
	logger   *logging.Logger
	upgrader websocket.Upgrader
	newID    func() string
}

// New creates a Server. A nil logger disables logging.
func New(cfg Config, gw *gateway.Gateway, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}

	s := &Server{
		cfg:    cfg,
		gw:     gw,
		logger: logger.WithComponent("server"),
		newID:  uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cfg.allows(origin)
		},
	}
	return s
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	mux.HandleFunc("/", s.handleIndex)
	return s.cors(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down the HTTP
// server and every live session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", srv.Addr, "static_dir", s.cfg.StaticDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.gw.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "sessions", s.gw.SessionIDs())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.gw.Shutdown()
	if err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case s.cfg.allowAny():
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.cfg.allows(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}{"ok", s.gw.Sessions()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := s.newID()
	logger := s.logger.WithSession(id)
	logger.Info("client connected", "remote", r.RemoteAddr)

	ch := newWSChannel(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		_ = s.gw.Disconnect(id)
		ch.close()
		_ = conn.Close()
		logger.Info("client disconnected")
	}()

	go s.pingLoop(ctx, ch, logger)
	s.readLoop(ctx, id, conn, ch, logger)
}

func (s *Server) readLoop(ctx context.Context, id string, conn *websocket.Conn, ch *wsChannel, logger *logging.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		in := DecodeFrame(frame)
		switch in.Event {
		case EventConnectionEstablish:
			logEventError(logger, in.Event, s.gw.Connect(ctx, id, ch))
		case EventCommandEntered:
			logEventError(logger, in.Event, s.gw.Command(id, ch, in.Command))
		default:
			logger.Debug("ignoring event", "event", in.Event)
		}
	}
}

// logEventError records the outcome of a failed client event. The gateway has
// already told the client; session-scoped rejections are routine and only
// traced, anything else is surfaced.
func logEventError(logger *logging.Logger, event string, err error) {
	if err == nil {
		return
	}
	if errors.IsSessionScoped(err) && errors.IsUserFacing(err) {
		logger.Debug("event rejected", "event", event, "severity", errors.GetSeverity(err).String())
		return
	}
	logger.Warn("event failed", "event", event, "error", err.Error())
}

func (s *Server) pingLoop(ctx context.Context, ch *wsChannel, logger *logging.Logger) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.ping(); err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
