// Package httpapi exposes position queries and session control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/position"
	"github.com/park285/jstockfish-go/internal/chess/session"
)

const defaultRequestTimeout = 15 * time.Second

type Config struct {
	Session        *session.Session
	Query          *position.Query
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server serializes every session call behind one mutex. Position queries
// run concurrently.
type Server struct {
	sess    *session.Session
	query   *position.Query
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	srv    *fasthttp.Server
	routes map[string]route
}

func New(cfg Config) (*Server, error) {
	if cfg.Session == nil || cfg.Query == nil {
		return nil, fmt.Errorf("session and query required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{sess: cfg.Session, query: cfg.Query, timeout: timeout, logger: logger}
	s.routes = s.routeTable()
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "sfctl",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

type route struct {
	method string
	handle func(ctx context.Context, rc *fasthttp.RequestCtx) (any, error)
}

func (s *Server) routeTable() map[string]route {
	return map[string]route{
		"/v1/position/evaluate": {fasthttp.MethodPost, s.positionEvaluate},
		"/v1/position/legal":    {fasthttp.MethodPost, s.positionLegal},
		"/v1/position/fen":      {fasthttp.MethodPost, s.positionFEN},
		"/v1/position/state":    {fasthttp.MethodPost, s.positionState},

		"/v1/session/handshake": {fasthttp.MethodPost, s.sessionHandshake},
		"/v1/session/option":    {fasthttp.MethodPost, s.sessionOption},
		"/v1/session/newgame":   {fasthttp.MethodPost, s.sessionNewGame},
		"/v1/session/position":  {fasthttp.MethodPost, s.sessionPosition},
		"/v1/session/go":        {fasthttp.MethodPost, s.sessionGo},
		"/v1/session/stop":      {fasthttp.MethodPost, s.sessionStop},
		"/v1/session/ponderhit": {fasthttp.MethodPost, s.sessionPonderHit},
		"/v1/session/flip":      {fasthttp.MethodPost, s.sessionFlip},

		"/v1/session/status":    {fasthttp.MethodGet, s.sessionStatus},
		"/v1/session/fen":       {fasthttp.MethodGet, s.sessionFEN},
		"/v1/session/evaluate":  {fasthttp.MethodGet, s.sessionEvaluate},
		"/v1/session/state":     {fasthttp.MethodGet, s.sessionState},
		"/v1/session/legal":     {fasthttp.MethodGet, s.sessionLegal},
		"/v1/session/display":   {fasthttp.MethodGet, s.sessionDisplay},
		"/v1/session/eval":      {fasthttp.MethodGet, s.sessionEvalText},
		"/v1/session/board.png": {fasthttp.MethodGet, s.sessionBoard},
	}
}

// Handler is the fasthttp entry point.
func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	path := string(rc.Path())
	r, ok := s.routes[path]
	if !ok {
		writeError(rc, fasthttp.StatusNotFound, "not found")
		return
	}
	if string(rc.Method()) != r.method {
		rc.Response.Header.Set("Allow", r.method)
		writeError(rc, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	out, err := r.handle(ctx, rc)
	if err != nil {
		status := statusFor(err)
		if status >= fasthttp.StatusInternalServerError {
			s.logger.Warn("request failed", zap.String("path", path), zap.Error(err))
		}
		writeError(rc, status, err.Error())
		return
	}
	if png, ok := out.(pngBody); ok {
		rc.SetContentType("image/png")
		rc.SetStatusCode(fasthttp.StatusOK)
		rc.SetBody(png)
	} else {
		writeJSON(rc, fasthttp.StatusOK, out)
	}
	s.logger.Debug("request served", zap.String("path", path), zap.Duration("elapsed", time.Since(start)))
}

type pngBody []byte

var errBadRequest = errors.New("bad request")

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, chess.ErrInvalidArgument):
		return fasthttp.StatusBadRequest
	case errors.Is(err, chess.ErrInvalidTransition), errors.Is(err, chess.ErrNoPositionLoaded):
		return fasthttp.StatusConflict
	case errors.Is(err, chess.ErrInvalidPosition):
		return fasthttp.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusBadGateway
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(rc, fasthttp.StatusInternalServerError, "encode response")
		return
	}
	rc.SetContentType("application/json")
	rc.SetStatusCode(status)
	rc.SetBody(body)
}

func writeError(rc *fasthttp.RequestCtx, status int, msg string) {
	body, _ := json.Marshal(map[string]string{"error": msg})
	rc.SetContentType("application/json")
	rc.SetStatusCode(status)
	rc.SetBody(body)
}

func decode(rc *fasthttp.RequestCtx, v any) error {
	body := rc.PostBody()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(rc *fasthttp.RequestCtx, key string) (int, error) {
	raw := rc.QueryArgs().Peek(key)
	if len(raw) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

// locked runs fn with the session mutex held.
func (s *Server) locked(fn func() (any, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
