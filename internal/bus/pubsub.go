package bus

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"
)

const subscriberQueueLen = 256

// Message is one published frame: a topic and a payload, framed together as
// topic-length-prefixed-then-payload on the wire.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher is a fan-out PUB socket: every connected subscriber receives
// every Publish call whose topic it has subscribed to. A slow subscriber
// never blocks the publisher or other subscribers — its queue is bounded
// and a full queue silently drops the newest message rather than crashing
// the publisher.
type Publisher struct {
	listener net.Listener
	wg       sync.WaitGroup

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

type subscriber struct {
	queue  chan Message
	filter string
}

// ListenPub starts a Publisher bound to addr.
func ListenPub(addr string) (*Publisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	p := &Publisher{listener: ln, subscribers: make(map[*subscriber]struct{})}
	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

// Addr returns the bound local address.
func (p *Publisher) Addr() net.Addr {
	return p.listener.Addr()
}

func (p *Publisher) acceptLoop() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		p.wg.Add(1)
		go p.serveSubscriber(conn)
	}
}

func (p *Publisher) serveSubscriber(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	filterBytes, err := readFrame(conn)
	if err != nil {
		return
	}

	sub := &subscriber{queue: make(chan Message, subscriberQueueLen), filter: string(filterBytes)}

	p.mu.Lock()
	p.subscribers[sub] = struct{}{}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.subscribers, sub)
		p.mu.Unlock()
	}()

	for msg := range sub.queue {
		if err := writeFrame(conn, append([]byte(msg.Topic+"\x00"), msg.Payload...)); err != nil {
			return
		}
	}
}

// Publish fans msg out to every subscriber whose filter is a prefix of
// topic (an empty filter subscribes to everything).
func (p *Publisher) Publish(topic string, payload []byte) {
	msg := Message{Topic: topic, Payload: payload}

	p.mu.Lock()
	defer p.mu.Unlock()

	for sub := range p.subscribers {
		if sub.filter != "" && !bytes.HasPrefix([]byte(topic), []byte(sub.filter)) {
			continue
		}
		select {
		case sub.queue <- msg:
		default:
			// queue full: drop, never block the publisher
		}
	}
}

// Close stops accepting subscribers and tears down existing ones.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	for sub := range p.subscribers {
		close(sub.queue)
	}
	p.mu.Unlock()
	err := p.listener.Close()
	p.wg.Wait()
	return err
}

// Subscriber is a SUB socket: it dials a Publisher, declares a topic
// filter, and yields messages as they arrive.
type Subscriber struct {
	conn   net.Conn
	filter string
}

// DialSub connects to a Publisher at addr with the given topic filter.
func DialSub(ctx context.Context, addr, filter string) (*Subscriber, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, []byte(filter)); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, filter: filter}, nil
}

// Receive blocks until the next message arrives, or returns an error when
// the publisher closes the connection. timeout <= 0 disables the read
// deadline (the original's ImageSubscriber default of 15s maps to passing
// 15*time.Second here).
func (s *Subscriber) Receive(timeout time.Duration) (Message, error) {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	frame, err := readFrame(s.conn)
	if err != nil {
		return Message{}, err
	}
	idx := bytes.IndexByte(frame, 0)
	if idx < 0 {
		return Message{Topic: "", Payload: frame}, nil
	}
	return Message{Topic: string(frame[:idx]), Payload: frame[idx+1:]}, nil
}

// Close disconnects from the publisher.
func (s *Subscriber) Close() error {
	return s.conn.Close()
}
