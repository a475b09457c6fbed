package dbserver

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

var localhost = net.IPv4(127, 0, 0, 1)

// fakePlayer is a scripted database service on loopback.
type fakePlayer struct {
	t *testing.T

	query net.Listener
	db    net.Listener

	// respond answers one request; nil means close the connection.
	respond func(req *Message) []*Message

	connections atomic.Int32
	requests    atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	wg sync.WaitGroup
}

func newFakePlayer(t *testing.T, respond func(req *Message) []*Message) *fakePlayer {
	t.Helper()

	query, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	db, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakePlayer{t: t, query: query, db: db, respond: respond}
	f.wg.Add(2)
	go f.serveQuery()
	go f.serveDB()
	t.Cleanup(func() {
		_ = query.Close()
		_ = db.Close()
		f.wg.Wait()
	})
	return f
}

func (f *fakePlayer) queryPort() int { return f.query.Addr().(*net.TCPAddr).Port }

func (f *fakePlayer) connector() TCPConnector {
	return TCPConnector{
		Addresses: func(djlink.DeviceID) (net.IP, bool) { return localhost, true },
		Dial:      DialConfig{PortQueryPort: f.queryPort(), PosingAs: 5},
	}
}

func (f *fakePlayer) serveQuery() {
	defer f.wg.Done()
	for {
		conn, err := f.query.Accept()
		if err != nil {
			return
		}
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err == nil {
			name := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
			if _, err := io.ReadFull(conn, name); err == nil {
				var port [2]byte
				binary.BigEndian.PutUint16(port[:], uint16(f.db.Addr().(*net.TCPAddr).Port))
				_, _ = conn.Write(port[:])
			}
		}
		_ = conn.Close()
	}
}

func (f *fakePlayer) serveDB() {
	defer f.wg.Done()
	for {
		conn, err := f.db.Accept()
		if err != nil {
			return
		}
		f.connections.Add(1)
		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *fakePlayer) handle(conn net.Conn) {
	defer f.wg.Done()
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	greeting, err := ReadField(r, DefaultMaxMessageSize)
	if err != nil || greeting.Number != 1 {
		return
	}
	if _, err := conn.Write(mustEncode(Number4(1))); err != nil {
		return
	}

	setup, err := ReadMessage(r, DefaultMaxMessageSize)
	if err != nil || setup.Type != SetupRequest {
		return
	}
	if _, err := NewMessage(setup.Transaction, MenuAvailable, Number4(0), Number4(0)).WriteTo(conn); err != nil {
		return
	}

	for {
		req, err := ReadMessage(r, DefaultMaxMessageSize)
		if err != nil || req.Type == TeardownRequest {
			return
		}
		f.requests.Add(1)
		n := f.inFlight.Add(1)
		for {
			max := f.maxInFlight.Load()
			if n <= max || f.maxInFlight.CompareAndSwap(max, n) {
				break
			}
		}
		replies := f.respond(req)
		f.inFlight.Add(-1)
		if replies == nil {
			return
		}
		for _, m := range replies {
			if _, err := m.WriteTo(conn); err != nil {
				return
			}
		}
	}
}

func mustEncode(f Field) []byte {
	b, err := f.Encode()
	if err != nil {
		panic(err)
	}
	return b
}
