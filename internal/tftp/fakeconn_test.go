package tftp

import (
	"errors"
	"net"
	"sync"
	"time"
)

// fakeAddr is a trivial net.Addr used to stand in for a server's
// ephemeral transfer-ID port.
type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

type fakePacket struct {
	data []byte
	addr net.Addr
}

// fakeTimeoutErr satisfies net.Error with Timeout() == true, the same
// signal *net.OpError reports for a deadline expiry.
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

// fakeConn is a minimal net.PacketConn double. Writes are published on
// Sent so a test-driven "server" goroutine can react to them; replies are
// injected via Deliver. A read deadline in the past (or exceeded while
// waiting) yields a timeout error, exactly like a real UDP socket.
type fakeConn struct {
	mu           sync.Mutex
	readDeadline time.Time
	incoming     chan fakePacket
	Sent         chan []byte
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan fakePacket, 16),
		Sent:     make(chan []byte, 16),
	}
}

func (f *fakeConn) Deliver(data []byte, addr net.Addr) {
	f.incoming <- fakePacket{data: data, addr: addr}
}

func (f *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	f.mu.Lock()
	deadline := f.readDeadline
	f.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, fakeTimeoutErr{}
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	}

	select {
	case pkt := <-f.incoming:
		n := copy(p, pkt.data)
		return n, pkt.addr, nil
	case <-timer:
		return 0, nil, fakeTimeoutErr{}
	}
}

func (f *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case f.Sent <- cp:
	default:
	}
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr { return fakeAddr("client:0") }

func (f *fakeConn) SetDeadline(t time.Time) error {
	_ = f.SetReadDeadline(t)
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.readDeadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }
