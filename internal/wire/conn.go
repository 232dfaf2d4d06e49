package wire

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// sendQueueDepth bounds the FIFO send queue; a peer that cannot keep up
// applies backpressure to its sender rather than growing without bound.
const sendQueueDepth = 256

// Conn wraps one TCP connection with the protocol's framing: a FIFO
// send-queue goroutine that writes in enqueue order and treats every
// write error as fatal (the connection is closed and the queue
// discarded; no write is retried), and a line-reader goroutine that decodes
// each frame and delivers it to Inbox. Writes never block on reads and
// vice versa — the two halves only share the underlying socket and a
// done channel.
type Conn struct {
	RemoteAddr string
	PeerType   PeerType

	conn   net.Conn
	reader *bufio.Reader
	log    zerolog.Logger
	queue  chan NetworkMessage
	done   chan struct{}
	once   sync.Once

	// Inbox receives every successfully decoded message, including a
	// synthetic ConnectionClosed when the remote end hangs up or the
	// connection is torn down locally.
	Inbox chan NetworkMessage
}

// NewConn starts the reader and writer goroutines for an already
// connected socket and returns the framed wrapper. remoteAddr is the
// peer's externally-visible address read from the handshake line, not
// necessarily conn.RemoteAddr() (which may be a NATed or ephemeral
// address). r, when non-nil, is the buffered reader left over from
// reading the handshake prefix off this same socket — reusing it
// avoids dropping any bytes the kernel had already delivered.
func NewConn(c net.Conn, r *bufio.Reader, peerType PeerType, remoteAddr string, log zerolog.Logger) *Conn {
	if r == nil {
		r = bufio.NewReaderSize(c, 4096)
	}
	fc := &Conn{
		RemoteAddr: remoteAddr,
		PeerType:   peerType,
		conn:       c,
		reader:     r,
		log:        log.With().Str("remote", remoteAddr).Logger(),
		queue:      make(chan NetworkMessage, sendQueueDepth),
		done:       make(chan struct{}),
		Inbox:      make(chan NetworkMessage, sendQueueDepth),
	}
	go fc.writeLoop()
	go fc.readLoop()
	return fc
}

// Send enqueues msg for delivery. It never blocks the caller's domain
// goroutine on I/O: the actual write happens on the dedicated writer
// goroutine, in FIFO order.
func (c *Conn) Send(msg NetworkMessage) {
	select {
	case c.queue <- msg:
	case <-c.done:
	}
}

// Close tears down both directions and discards any still-queued
// messages, per the framed-transport's "hard error discards the
// queue" rule.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg := <-c.queue:
			frame, err := Encode(msg)
			if err != nil {
				c.log.Error().Err(err).Str("kind", msg.Kind()).Msg("failed to encode outbound message")
				continue
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.log.Warn().Err(err).Msg("write failed, closing connection")
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		c.Close()
		select {
		case c.Inbox <- ConnectionClosed{RemoteAddr: c.RemoteAddr}:
		default:
		}
	}()

	scanner := bufio.NewScanner(c.reader)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line)
		if err != nil {
			c.log.Error().Err(err).Msg("malformed frame, closing connection")
			return
		}
		select {
		case c.Inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// Handshake performs the connection-setup prefix: one peer-kind byte
// followed by one newline-terminated line carrying selfAddr, the
// sender's externally visible address.
func Handshake(c net.Conn, self PeerType, selfAddr string) error {
	buf := append([]byte{byte(self)}, []byte(selfAddr+"\n")...)
	if _, err := c.Write(buf); err != nil {
		return fmt.Errorf("wire: handshake write: %w", err)
	}
	return nil
}

// ReadHandshake consumes the connection-setup prefix from an accepted
// socket and returns the remote peer's declared kind and address,
// along with the buffered reader it read from — callers must pass
// this same reader into NewConn so no bytes already pulled into the
// buffer are lost.
func ReadHandshake(c net.Conn) (PeerType, string, *bufio.Reader, error) {
	r := bufio.NewReaderSize(c, 4096)
	kindByte, err := r.ReadByte()
	if err != nil {
		return 0, "", nil, fmt.Errorf("wire: read peer-kind byte: %w", err)
	}
	peerType, ok := ParsePeerType(kindByte)
	if !ok {
		return 0, "", nil, fmt.Errorf("wire: unknown peer-kind byte %d", kindByte)
	}
	addrLine, err := r.ReadString('\n')
	if err != nil {
		return 0, "", nil, fmt.Errorf("wire: read peer address line: %w", err)
	}
	addr := addrLine[:len(addrLine)-1]
	return peerType, addr, r, nil
}
