// Package transport receives the UDP broadcasts DJ Link devices send:
// keep-alive announcements on port 50000 and status packets on port 50002.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
)

// Well-known DJ Link ports.
const (
	AnnouncementPort = 50000
	StatusPort       = 50002
)

// maxDatagram is larger than any DJ Link packet.
const maxDatagram = 2048

// readDeadline bounds each read so Stop is observed promptly.
const readDeadline = 500 * time.Millisecond

// Handler processes one datagram. It runs on the receive goroutine and must
// not block: decode and enqueue only. packet is owned by the handler.
type Handler func(packet []byte, from *net.UDPAddr, received time.Time)

// UDPConfig configures a listener.
type UDPConfig struct {
	// Name labels log lines, e.g. "announcements".
	Name string

	// Address is the local IP to bind. Empty binds every interface.
	Address string

	Port    int
	Handler Handler
}

// UDPListener reads datagrams from one port and hands them to a Handler.
type UDPListener struct {
	config UDPConfig

	conn         *net.UDPConn
	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewUDPListener creates a listener. Nothing is bound until Serve.
func NewUDPListener(cfg UDPConfig) *UDPListener {
	return &UDPListener{
		config:   cfg,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve binds the port and reads until ctx is cancelled or Stop is called.
func (l *UDPListener) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(l.config.Address, fmt.Sprint(l.config.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %s: %w", addr, err)
	}
	l.conn = conn
	close(l.ready)

	logger.Info("UDP listener started", "listener", l.config.Name, logger.KeyAddress, conn.LocalAddr().String())

	l.wg.Add(1)
	go l.readLoop()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.shutdown:
		}
	}()

	l.wg.Wait()
	_ = conn.Close()
	logger.Info("UDP listener stopped", "listener", l.config.Name)
	return nil
}

// WaitReady is closed once the port is bound.
func (l *UDPListener) WaitReady() <-chan struct{} { return l.ready }

// Addr returns the bound address, or nil before Serve binds.
func (l *UDPListener) Addr() *net.UDPAddr {
	select {
	case <-l.ready:
		return l.conn.LocalAddr().(*net.UDPAddr)
	default:
		return nil
	}
}

// Stop ends the read loop. It is safe to call more than once.
func (l *UDPListener) Stop() {
	l.shutdownOnce.Do(func() { close(l.shutdown) })
}

func (l *UDPListener) stopping() bool {
	select {
	case <-l.shutdown:
		return true
	default:
		return false
	}
}

func (l *UDPListener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxDatagram)
	for !l.stopping() {
		if err := l.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			if l.stopping() {
				return
			}
			logger.Debug("UDP set deadline error", "listener", l.config.Name, "error", err)
			continue
		}

		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if l.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("UDP read error", "listener", l.config.Name, "error", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		l.dispatch(packet, from, time.Now())
	}
}

func (l *UDPListener) dispatch(packet []byte, from *net.UDPAddr, received time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in packet handler",
				"listener", l.config.Name,
				logger.KeyAddress, from.String(),
				logger.KeyLength, len(packet),
				"error", r,
				"stack", string(debug.Stack()))
		}
	}()
	l.config.Handler(packet, from, received)
}
