package dbserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/internal/telemetry"
	"github.com/marmos91/deckwatch/pkg/djlink"
	"github.com/marmos91/deckwatch/pkg/metrics"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultIdleTimeout    = time.Minute
)

// Conn is what an exchange function talks to. *Client implements it.
type Conn interface {
	Player() djlink.DeviceID
	Target(slot djlink.TrackSourceSlot, trackType djlink.TrackType) Field
	SimpleRequest(ctx context.Context, t MessageType, expected MessageType, args ...Field) (*Message, error)
	MenuRequest(ctx context.Context, t MessageType, slot djlink.TrackSourceSlot, trackType djlink.TrackType, args ...Field) ([]*Message, error)
	Close() error
}

// Connector opens a conversation with a player.
type Connector interface {
	Connect(ctx context.Context, player djlink.DeviceID) (Conn, error)
}

// AddressBook resolves a device number to its IP address.
type AddressBook func(player djlink.DeviceID) (net.IP, bool)

// TCPConnector dials players found in an AddressBook.
type TCPConnector struct {
	Addresses AddressBook
	Dial      DialConfig
}

// Connect implements Connector.
func (c TCPConnector) Connect(ctx context.Context, player djlink.DeviceID) (Conn, error) {
	ip, ok := c.Addresses(player)
	if !ok {
		return nil, errors.New("device is not on the network")
	}
	return Dial(ctx, ip, player, c.Dial)
}

// ManagerConfig configures a SessionManager.
type ManagerConfig struct {
	Connector      Connector
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	Metrics        *metrics.SessionMetrics
}

// session is one player's conversation. sem is a one-slot semaphore: only
// its holder may touch conn.
type session struct {
	player   djlink.DeviceID
	sem      chan struct{}
	conn     Conn
	lastUsed time.Time
	retired  bool
}

// SessionManager owns at most one conversation per player and serializes
// every exchange on it. Callers for the same player queue; callers for
// different players proceed in parallel.
type SessionManager struct {
	config ManagerConfig

	mu       sync.Mutex
	sessions map[djlink.DeviceID]*session

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSessionManager creates a manager. Call Start to run the idle janitor.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &SessionManager{
		config:   cfg,
		sessions: make(map[djlink.DeviceID]*session),
	}
}

// Start runs the janitor that closes idle sessions.
func (m *SessionManager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	jctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.janitor(jctx, m.done)
}

// Stop ends the janitor and closes every session.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	players := make([]djlink.DeviceID, 0, len(m.sessions))
	for id := range m.sessions {
		players = append(players, id)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, id := range players {
		m.DeviceLost(id)
	}
}

// Exchange runs fn with exclusive use of player's conversation, connecting
// first if needed. ctx bounds the wait for the session; the request timeout
// bounds fn. Any failure closes the conversation so the next caller starts
// fresh. Errors other than ErrUnavailable are returned as session errors.
func (m *SessionManager) Exchange(ctx context.Context, player djlink.DeviceID, description string, fn func(ctx context.Context, conn Conn) error) error {
	ctx, span := telemetry.StartExchangeSpan(ctx, int(player), description)
	defer span.End()

	start := time.Now()
	err := m.exchange(ctx, player, description, fn)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
		telemetry.RecordError(ctx, err)
	}
	m.config.Metrics.RecordExchange(outcome, time.Since(start))
	return err
}

func (m *SessionManager) exchange(ctx context.Context, player djlink.DeviceID, description string, fn func(context.Context, Conn) error) error {
	s, err := m.acquire(ctx, player)
	if err != nil {
		return djlink.NewSessionError(player, "waiting for session to "+description, err)
	}
	defer m.release(s)

	if s.conn == nil {
		cctx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
		cctx, span := telemetry.StartConnectSpan(cctx, int(player))
		conn, err := m.config.Connector.Connect(cctx, player)
		if err != nil {
			telemetry.RecordError(cctx, err)
		}
		span.End()
		cancel()
		if err != nil {
			return djlink.NewSessionError(player, "connecting to "+description, err)
		}
		s.conn = conn
		m.config.Metrics.AddOpen(1)
	}

	rctx, cancel := context.WithTimeout(ctx, m.config.RequestTimeout)
	defer cancel()

	err = fn(rctx, s.conn)
	s.lastUsed = time.Now()
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}

	logger.Debug("Database exchange failed, closing session",
		logger.KeyPlayer, int(player), logger.KeyRequest, description, logger.KeyError, err)
	m.closeConn(s)
	if errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return djlink.NewSessionError(player, "timed out trying to "+description, err)
	}
	return djlink.NewSessionError(player, "failed to "+description, err)
}

// acquire waits for exclusive use of player's session.
func (m *SessionManager) acquire(ctx context.Context, player djlink.DeviceID) (*session, error) {
	m.config.Metrics.AddWaiting(1)
	defer m.config.Metrics.AddWaiting(-1)

	for {
		m.mu.Lock()
		s, ok := m.sessions[player]
		if !ok {
			s = &session{player: player, sem: make(chan struct{}, 1)}
			m.sessions[player] = s
		}
		m.mu.Unlock()

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		m.mu.Lock()
		retired := s.retired
		m.mu.Unlock()
		if !retired {
			return s, nil
		}
		// The device went away while we waited; try again with a fresh
		// session.
		m.closeConn(s)
		<-s.sem
	}
}

func (m *SessionManager) release(s *session) {
	m.mu.Lock()
	retired := s.retired
	m.mu.Unlock()
	if retired {
		m.closeConn(s)
	}
	<-s.sem
}

// closeConn must be called by the semaphore holder.
func (m *SessionManager) closeConn(s *session) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		logger.Debug("Error closing database session", logger.KeyPlayer, int(s.player), logger.KeyError, err)
	}
	s.conn = nil
	m.config.Metrics.AddOpen(-1)
}

// DeviceLost retires player's session. An exchange in progress finishes
// (or times out) and its connection is then closed; queued callers get a
// new session.
func (m *SessionManager) DeviceLost(player djlink.DeviceID) {
	m.mu.Lock()
	s, ok := m.sessions[player]
	if ok {
		s.retired = true
		delete(m.sessions, player)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case s.sem <- struct{}{}:
		m.closeConn(s)
		<-s.sem
	default:
		// Busy: release closes it.
	}
	logger.Debug("Database session retired", logger.KeyPlayer, int(player))
}

// OpenSessions returns the players with an open connection.
func (m *SessionManager) OpenSessions() []djlink.DeviceID {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var out []djlink.DeviceID
	for _, s := range sessions {
		select {
		case s.sem <- struct{}{}:
			if s.conn != nil {
				out = append(out, s.player)
			}
			<-s.sem
		default:
			out = append(out, s.player)
		}
	}
	return out
}

func (m *SessionManager) janitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.closeIdle(now)
		}
	}
}

func (m *SessionManager) closeIdle(now time.Time) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.sem <- struct{}{}:
		default:
			continue
		}
		if s.conn != nil && now.Sub(s.lastUsed) > m.config.IdleTimeout {
			logger.Debug("Closing idle database session", logger.KeyPlayer, int(s.player))
			m.closeConn(s)
		}
		<-s.sem
	}
}

// Exchanger runs a function with exclusive use of a player's conversation.
// *SessionManager implements it.
type Exchanger interface {
	Exchange(ctx context.Context, player djlink.DeviceID, description string, fn func(ctx context.Context, conn Conn) error) error
}

// Invoke runs fn through an Exchanger and returns its result.
func Invoke[T any](ctx context.Context, m Exchanger, player djlink.DeviceID, description string, fn func(ctx context.Context, conn Conn) (T, error)) (T, error) {
	var result T
	err := m.Exchange(ctx, player, description, func(ctx context.Context, conn Conn) error {
		var err error
		result, err = fn(ctx, conn)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
