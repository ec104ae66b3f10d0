package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Handler answers one request frame with a response frame.
type Handler func(ctx context.Context, request []byte) []byte

// ReqRepServer accepts connections and answers each request on that
// connection strictly in order, mirroring the original's synchronous REP
// socket discipline: the peer must not send a second request before the
// first is answered.
type ReqRepServer struct {
	listener net.Listener
	handler  Handler
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// ListenReqRep starts a ReqRepServer bound to addr.
func ListenReqRep(addr string, handler Handler) (*ReqRepServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: listen %s: %w", addr, err)
	}
	s := &ReqRepServer{listener: ln, handler: handler}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound local address (useful when addr was ":0").
func (s *ReqRepServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *ReqRepServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *ReqRepServer) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		req, err := readFrame(conn)
		if err != nil {
			return
		}
		resp := s.handler(context.Background(), req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

// Close stops accepting new connections and waits for in-flight requests.
func (s *ReqRepServer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// ReqRepClient is a request/reply client that reconnects on the next
// request after a failed one (immediately, with no backoff delay),
// standing in for the source's ImageSender/RingWire REQ socket wrappers,
// which silently rebuild their socket on timeout.
type ReqRepClient struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewReqRepClient creates a client targeting addr. The connection is
// established lazily on the first Request call.
func NewReqRepClient(addr string, timeout time.Duration) *ReqRepClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ReqRepClient{addr: addr, timeout: timeout}
}

// Request sends one request and returns the matching response. On any
// transport error the underlying connection is dropped so the next call
// reconnects instead of retrying a broken socket.
func (c *ReqRepClient) Request(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return nil, err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(deadline)

	if err := writeFrame(c.conn, payload); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("bus: request write: %w", err)
	}

	resp, err := readFrame(c.conn)
	if err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("bus: request timed out or connection lost: %w", err)
	}
	return resp, nil
}

func (c *ReqRepClient) dialLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("bus: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

func (c *ReqRepClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the underlying connection, if any.
func (c *ReqRepClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}
