package ekho

import (
	"context"
	"io"
	"net"
	"sync"
	"time"
)

// sessionAddr implements net.Addr over an Endpoint/conv pair, since a
// Session has no TCP-style port — conv is the closest thing it has to
// one, and callers that print an address (SOCKS logging, etc.) want
// something more useful than the bare IP.
type sessionAddr struct {
	ep   Endpoint
	conv uint32
}

func (a sessionAddr) Network() string { return "ekho" }
func (a sessionAddr) String() string  { return sessionKey{peer: a.ep, conv: a.conv}.String() }

// SessionConn adapts a *Session to the net.Conn interface, bridging
// the ARQ-backed session into something net/http and gosocks5 can read
// and write against directly. Unlike a TCP conn, partial reads never
// block past a single reassembled message boundary: Read drains one
// Session.Recv() message into the caller's buffer across as many calls
// as it takes, exactly like bufio buffering a socket.
type SessionConn struct {
	sess *Session

	mu       sync.Mutex
	readBuf  []byte
	readErr  error
	rdlineMu sync.Mutex
	rdline   time.Time
	wrlineMu sync.Mutex
	wrline   time.Time
}

// NewSessionConn wraps sess as a net.Conn.
func NewSessionConn(sess *Session) *SessionConn {
	return &SessionConn{sess: sess}
}

func (c *SessionConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.readBuf) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		ctx, cancel := c.readContext()
		msg, err := c.sess.Recv(ctx)
		cancel()
		if err != nil {
			c.readErr = err
			return 0, err
		}
		if len(msg) == 0 {
			// peer FIN: surface as EOF, the io.Reader convention, rather
			// than an empty non-error read that would spin callers.
			c.readErr = io.EOF
			return 0, io.EOF
		}
		c.readBuf = msg
	}

	n := copy(b, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *SessionConn) readContext() (context.Context, context.CancelFunc) {
	c.rdlineMu.Lock()
	deadline := c.rdline
	c.rdlineMu.Unlock()
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

func (c *SessionConn) Write(b []byte) (int, error) {
	c.wrlineMu.Lock()
	deadline := c.wrline
	c.wrlineMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.sess.Send(b) }()

	if deadline.IsZero() {
		if err := <-done; err != nil {
			return 0, err
		}
		return len(b), nil
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return 0, err
		}
		return len(b), nil
	case <-timer.C:
		return 0, context.DeadlineExceeded
	}
}

func (c *SessionConn) Close() error {
	return c.sess.Close()
}

func (c *SessionConn) LocalAddr() net.Addr {
	return sessionAddr{}
}

func (c *SessionConn) RemoteAddr() net.Addr {
	return sessionAddr{ep: c.sess.Peer(), conv: c.sess.Conv()}
}

func (c *SessionConn) SetDeadline(t time.Time) error {
	_ = c.SetReadDeadline(t)
	_ = c.SetWriteDeadline(t)
	return nil
}

func (c *SessionConn) SetReadDeadline(t time.Time) error {
	c.rdlineMu.Lock()
	c.rdline = t
	c.rdlineMu.Unlock()
	return nil
}

func (c *SessionConn) SetWriteDeadline(t time.Time) error {
	c.wrlineMu.Lock()
	c.wrline = t
	c.wrlineMu.Unlock()
	return nil
}
