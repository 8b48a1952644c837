// Package ws implements the Session Layer (spec §4.7): one cooperative,
// single-goroutine actor per live client connection, exposing the
// suggest/update_preferences/ping message contract over a websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/service"
)

// Suggester is the Retrieval Pipeline surface the session layer depends on.
// Implemented by *service.RetrieverService.
type Suggester interface {
	Suggest(ctx context.Context, ownerID string, qctx model.QueryContext, prefs model.Preferences) (*model.SuggestionSet, error)
}

// Config carries the session layer's environment knobs (spec §4.7, §6).
type Config struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	DebounceMs         int
	IdlePing           time.Duration
	PingTimeout        time.Duration
	SuggestTimeout     time.Duration

	// Metrics records soft degradations surfaced in a suggestion set's
	// diagnostics. Nil disables the counter.
	Metrics DegradedSuggestionCounter
}

// DegradedSuggestionCounter is the metrics surface the session layer needs.
// Implemented by *middleware.Metrics.
type DegradedSuggestionCounter interface {
	IncrementDegradedSuggestion()
}

// wsConn is the subset of *websocket.Conn the session uses, narrowed so
// tests can substitute a fake transport.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one live streaming connection (spec §3, §4.7): a single-user
// cooperative actor holding a rate-limit bucket, a debounced pending
// request slot, and a cancellation token for the in-flight retrieval.
type Session struct {
	conn      wsConn
	userID    string
	ownerID   string
	cfg       Config
	suggester Suggester

	limiter *rate.Limiter

	state model.SessionState

	prefs model.Preferences

	queued       *pendingSuggest
	debounce     *time.Timer
	inFlightStop context.CancelFunc
	generation   uint64

	inboundCh chan []byte
	resultCh  chan retrievalResult
	readErrCh chan error

	outSuggest chan []byte
	outControl chan []byte

	closed chan struct{}
}

type pendingSuggest struct {
	qctx model.QueryContext
}

type retrievalResult struct {
	generation uint64
	set        *model.SuggestionSet
	err        error
}

// NewSession creates a Session wrapping an already-upgraded connection.
// ownerID scopes which papers' chunks this session may retrieve against.
func NewSession(conn *websocket.Conn, userID, ownerID string, suggester Suggester, cfg Config) *Session {
	return newSession(conn, userID, ownerID, suggester, cfg)
}

func newSession(conn wsConn, userID, ownerID string, suggester Suggester, cfg Config) *Session {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.DebounceMs <= 0 {
		cfg.DebounceMs = 300
	}
	if cfg.IdlePing <= 0 {
		cfg.IdlePing = 30 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.SuggestTimeout <= 0 {
		cfg.SuggestTimeout = 20 * time.Second
	}

	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)

	s := &Session{
		conn:       conn,
		userID:     userID,
		ownerID:    ownerID,
		cfg:        cfg,
		suggester:  suggester,
		limiter:    rate.NewLimiter(ratePerSec, cfg.RateLimitBurst),
		state:      model.SessionOpening,
		prefs:      model.DefaultPreferences(),
		inboundCh:  make(chan []byte, 8),
		resultCh:   make(chan retrievalResult, 1),
		readErrCh:  make(chan error, 1),
		outSuggest: make(chan []byte, 1),
		outControl: make(chan []byte, 8),
		closed:     make(chan struct{}),
	}
	s.debounce = time.NewTimer(time.Hour)
	if !s.debounce.Stop() {
		<-s.debounce.C
	}
	return s
}

// Run drives the session until the connection closes or ctx is cancelled.
// It blocks; callers typically invoke it from the goroutine that accepted
// the websocket upgrade.
func (s *Session) Run(ctx context.Context) {
	s.state = model.SessionOpen
	slog.Info("ws.Session: open", "user_id", s.userID)

	go s.readPump()
	go s.writePump()

	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case err := <-s.readErrCh:
			if err != nil {
				slog.Info("ws.Session: read ended", "user_id", s.userID, "error", err)
			}
			return
		case raw := <-s.inboundCh:
			s.handleInbound(ctx, raw)
		case <-s.debounce.C:
			s.fireRetrieval(ctx)
		case res := <-s.resultCh:
			s.handleResult(res)
		}
	}
}

func (s *Session) shutdown() {
	s.state = model.SessionDraining
	if s.inFlightStop != nil {
		s.inFlightStop()
	}
	s.debounce.Stop()
	close(s.closed)
	s.conn.Close()
	s.state = model.SessionClosed
	slog.Info("ws.Session: closed", "user_id", s.userID)
}

func (s *Session) handleInbound(ctx context.Context, raw []byte) {
	env, err := decodeInbound(raw)
	if err != nil {
		s.sendError(model.ErrCodeInternal, "malformed message")
		return
	}

	switch env.Type {
	case "suggest":
		if !s.limiter.Allow() {
			s.sendError(model.ErrCodeRateLimited, "rate limit exceeded")
			return
		}
		qctx := env.Context
		if qctx.CurrentSentence == "" {
			qctx.CurrentSentence = env.Text
		}
		s.queued = &pendingSuggest{qctx: qctx}
		s.resetDebounce()

	case "update_preferences":
		s.prefs = env.Preferences.applyTo(s.prefs)

	case "ping":
		s.sendPong()

	default:
		s.sendError(model.ErrCodeInternal, fmt.Sprintf("unrecognized message type %q", env.Type))
	}
}

func (s *Session) resetDebounce() {
	if !s.debounce.Stop() {
		select {
		case <-s.debounce.C:
		default:
		}
	}
	s.debounce.Reset(time.Duration(s.cfg.DebounceMs) * time.Millisecond)
}

// fireRetrieval runs once the debounce window has elapsed with no newer
// suggest arriving. Any retrieval already in flight is cancelled; its
// eventual result is discarded via the generation check in handleResult
// (spec §4.7's most-recent-wins cancellation).
func (s *Session) fireRetrieval(ctx context.Context) {
	pending := s.queued
	s.queued = nil
	if pending == nil {
		return
	}

	if s.inFlightStop != nil {
		s.inFlightStop()
	}

	s.generation++
	gen := s.generation
	retrieveCtx, cancel := context.WithTimeout(ctx, s.cfg.SuggestTimeout)
	s.inFlightStop = cancel

	qctx := pending.qctx
	prefs := s.prefs

	go func() {
		set, err := s.suggester.Suggest(retrieveCtx, s.ownerID, qctx, prefs)
		s.resultCh <- retrievalResult{generation: gen, set: set, err: err}
	}()
}

func (s *Session) handleResult(res retrievalResult) {
	if res.generation != s.generation {
		return // superseded by a newer request
	}
	if s.inFlightStop != nil {
		s.inFlightStop()
		s.inFlightStop = nil
	}

	if res.err != nil {
		code := model.ErrCodeInternal
		switch {
		case isTimeoutErr(res.err):
			code = model.ErrCodeTimeout
		case isEmbeddingUnavailableErr(res.err):
			code = model.ErrCodeEmbeddingUnavailable
		}
		msg := res.err.Error()
		const maxInternalMessage = 200
		if code == model.ErrCodeInternal && len(msg) > maxInternalMessage {
			msg = msg[:maxInternalMessage]
		}
		s.sendError(code, msg)
		return
	}

	if s.cfg.Metrics != nil && res.set.Diagnostics.LexicalDegraded {
		s.cfg.Metrics.IncrementDegradedSuggestion()
	}

	payload, err := encodeSuggestions(res.set)
	if err != nil {
		s.sendError(model.ErrCodeInternal, "failed to encode suggestions")
		return
	}
	s.sendSuggestions(payload)
}

func (s *Session) sendPong() {
	payload, err := encodePong()
	if err != nil {
		return
	}
	s.sendControl(payload)
}

func (s *Session) sendError(code model.ErrorCode, message string) {
	payload, err := encodeError(code, message)
	if err != nil {
		return
	}
	s.sendControl(payload)
}

// sendSuggestions applies drop-oldest back-pressure: a suggestions message
// replaces any unsent one rather than blocking the session loop (spec
// §4.7's back-pressure rule).
func (s *Session) sendSuggestions(payload []byte) {
	select {
	case s.outSuggest <- payload:
		return
	default:
	}
	select {
	case <-s.outSuggest:
	default:
	}
	select {
	case s.outSuggest <- payload:
	default:
	}
}

// sendControl never drops: error and pong messages are delivered or the
// session is already closing.
func (s *Session) sendControl(payload []byte) {
	select {
	case s.outControl <- payload:
	case <-s.closed:
	}
}

func (s *Session) readPump() {
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdlePing + s.cfg.PingTimeout))
	})
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdlePing + s.cfg.PingTimeout))

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.readErrCh <- err
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdlePing + s.cfg.PingTimeout))
		select {
		case s.inboundCh <- raw:
		case <-s.closed:
			return
		}
	}
}

// writePump owns every write to the connection (gorilla connections are not
// safe for concurrent writers) and drives the transport-level keep-alive:
// a websocket ping control frame after IdlePing of silence.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.IdlePing)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case payload := <-s.outControl:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-s.outSuggest:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.PingTimeout)); err != nil {
				return
			}
		}
	}
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, service.ErrTimeout)
}

func isEmbeddingUnavailableErr(err error) bool {
	return errors.Is(err, service.ErrEmbeddingUnavailable)
}
