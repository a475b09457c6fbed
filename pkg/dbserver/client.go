package dbserver

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/pkg/djlink"
)

const (
	// DefaultPortQueryPort is where players answer "which port is the
	// database service on?".
	DefaultPortQueryPort = 12523

	// DefaultMaxMessageSize bounds binary and string fields. Album art is the
	// largest payload players send.
	DefaultMaxMessageSize = 1 << 20

	setupTransaction uint32 = 0xfffffffe
	portQueryService        = "RemoteDBServer"
)

// menuData is the menu location used in request targets.
const menuData byte = 1

// maxMenuItems bounds the item count a player may announce for one menu.
const maxMenuItems = 1 << 16

// ErrUnavailable is returned when the player answers UNAVAILABLE.
var ErrUnavailable = errors.New("player reported content unavailable")

// DialConfig configures how a Client reaches a player.
type DialConfig struct {
	PortQueryPort int

	// PosingAs is the device number we claim in the setup request. It must
	// be a player number (1-4) not used by a real player.
	PosingAs djlink.DeviceID

	MaxMessageSize int
}

func (c DialConfig) withDefaults() DialConfig {
	if c.PortQueryPort == 0 {
		c.PortQueryPort = DefaultPortQueryPort
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.PosingAs == 0 {
		c.PosingAs = 4
	}
	return c
}

// Client is an established conversation with one player's database service.
// It is not safe for concurrent use: SessionManager owns serialization.
type Client struct {
	player   djlink.DeviceID
	posingAs djlink.DeviceID
	maxSize  int

	conn net.Conn
	r    *bufio.Reader
	txn  uint32
}

// Dial discovers the database port of the player at ip, connects and
// completes the greeting and setup exchange. ctx bounds the whole sequence.
func Dial(ctx context.Context, ip net.IP, player djlink.DeviceID, cfg DialConfig) (*Client, error) {
	cfg = cfg.withDefaults()

	port, err := QueryPort(ctx, ip, cfg.PortQueryPort)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial database service %s: %w", addr, err)
	}

	c := &Client{
		player:   player,
		posingAs: cfg.PosingAs,
		maxSize:  cfg.MaxMessageSize,
		conn:     conn,
		r:        bufio.NewReader(conn),
	}
	if err := c.handshake(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debug("Database session established",
		logger.KeyPlayer, int(player), logger.KeyAddress, addr, "posing_as", int(cfg.PosingAs))
	return c, nil
}

// QueryPort asks the player which TCP port its database service listens on.
func QueryPort(ctx context.Context, ip net.IP, queryPort int) (int, error) {
	var dialer net.Dialer
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(queryPort))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("dial port query %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, fmt.Errorf("set deadline: %w", err)
		}
	}

	name := append([]byte(portQueryService), 0)
	req := make([]byte, 4+len(name))
	binary.BigEndian.PutUint32(req, uint32(len(name)))
	copy(req[4:], name)
	if _, err := conn.Write(req); err != nil {
		return 0, fmt.Errorf("write port query: %w", err)
	}

	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return 0, fmt.Errorf("read port query response: %w", err)
	}
	port := int(binary.BigEndian.Uint16(resp[:]))
	if port == 0 || port == 0xffff {
		return 0, fmt.Errorf("player at %s has no database service", ip)
	}
	return port, nil
}

func (c *Client) handshake(ctx context.Context) error {
	restore := c.bind(ctx)
	defer restore()

	// Greeting: both sides exchange the number field 1.
	greeting, _ := Number4(1).Encode()
	if _, err := c.conn.Write(greeting); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}
	reply, err := ReadField(c.r, c.maxSize)
	if err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if reply.Type != FieldNumber4 || reply.Number != 1 {
		return fmt.Errorf("unexpected greeting %s", reply)
	}

	setup := NewMessage(setupTransaction, SetupRequest, Number4(uint32(c.posingAs)))
	if _, err := setup.WriteTo(c.conn); err != nil {
		return fmt.Errorf("write setup: %w", err)
	}
	resp, err := ReadMessage(c.r, c.maxSize)
	if err != nil {
		return fmt.Errorf("read setup response: %w", err)
	}
	if resp.Type != MenuAvailable {
		return fmt.Errorf("setup answered with %s", resp.Type)
	}
	return nil
}

// bind applies ctx to the connection: its deadline, and an immediate
// deadline if ctx is cancelled mid-exchange.
func (c *Client) bind(ctx context.Context) func() {
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = c.conn.SetDeadline(time.Time{})
	}
}

// Player returns the device this client talks to.
func (c *Client) Player() djlink.DeviceID { return c.player }

// Target builds the first argument of most requests: who is asking, which
// menu, which media slot and what kind of track.
func (c *Client) Target(slot djlink.TrackSourceSlot, trackType djlink.TrackType) Field {
	return Number4(uint32(c.posingAs)<<24 | uint32(menuData)<<16 | uint32(slot)<<8 | uint32(trackType))
}

func (c *Client) nextTxn() uint32 {
	c.txn++
	return c.txn
}

// SimpleRequest sends one request and expects a single response of type
// expected. An UNAVAILABLE response yields ErrUnavailable.
func (c *Client) SimpleRequest(ctx context.Context, t MessageType, expected MessageType, args ...Field) (*Message, error) {
	restore := c.bind(ctx)
	defer restore()
	return c.roundTrip(t, expected, args...)
}

func (c *Client) roundTrip(t MessageType, expected MessageType, args ...Field) (*Message, error) {
	req := NewMessage(c.nextTxn(), t, args...)
	if _, err := req.WriteTo(c.conn); err != nil {
		return nil, fmt.Errorf("write %s: %w", t, err)
	}
	resp, err := ReadMessage(c.r, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", t, err)
	}
	if resp.Transaction != req.Transaction {
		return nil, fmt.Errorf("%s response transaction %d, sent %d", t, resp.Transaction, req.Transaction)
	}
	if resp.Type == Unavailable {
		return nil, ErrUnavailable
	}
	if resp.Type != expected {
		return nil, fmt.Errorf("%s answered with %s, expected %s", t, resp.Type, expected)
	}
	return resp, nil
}

// MenuRequest issues a menu-producing request and renders every item it
// makes available. The header and footer are not returned.
func (c *Client) MenuRequest(ctx context.Context, t MessageType, slot djlink.TrackSourceSlot, trackType djlink.TrackType, args ...Field) ([]*Message, error) {
	restore := c.bind(ctx)
	defer restore()

	target := c.Target(slot, trackType)
	avail, err := c.roundTrip(t, MenuAvailable, append([]Field{target}, args...)...)
	if err != nil {
		return nil, err
	}
	count, err := avail.NumberArg(1)
	if err != nil {
		return nil, err
	}
	if count == 0 || count == 0xffffffff {
		return nil, ErrUnavailable
	}
	if count > maxMenuItems {
		return nil, fmt.Errorf("player announced %d menu items, limit is %d", count, maxMenuItems)
	}

	render := NewMessage(c.nextTxn(), RenderMenuRequest,
		target, Number4(0), Number4(count), Number4(0), Number4(count), Number4(0))
	if _, err := render.WriteTo(c.conn); err != nil {
		return nil, fmt.Errorf("write %s: %w", RenderMenuRequest, err)
	}

	header, err := ReadMessage(c.r, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("read menu header: %w", err)
	}
	if header.Type != MenuHeader {
		return nil, fmt.Errorf("render answered with %s, expected %s", header.Type, MenuHeader)
	}

	var items []*Message
	for {
		m, err := ReadMessage(c.r, c.maxSize)
		if err != nil {
			return nil, fmt.Errorf("read menu item %d: %w", len(items), err)
		}
		switch m.Type {
		case MenuItem:
			if uint32(len(items)) == count {
				return nil, fmt.Errorf("menu has more than the %d announced items", count)
			}
			items = append(items, m)
		case MenuFooter:
			return items, nil
		default:
			return nil, fmt.Errorf("unexpected %s while rendering menu", m.Type)
		}
	}
}

// Close sends a teardown and closes the connection.
func (c *Client) Close() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	_, _ = NewMessage(c.nextTxn(), TeardownRequest).WriteTo(c.conn)
	return c.conn.Close()
}
