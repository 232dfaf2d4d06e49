// Package acceptor implements §4.8: it listens on the node's bound
// port, classifies every incoming connection by its 1-byte peer-kind
// handshake prefix, and hands the framed result to the Coordinator.
package acceptor

import (
	"context"
	"net"

	"github.com/rs/zerolog"

	"foodmesh/internal/wire"
)

// Registrar is implemented by Coordinator.
type Registrar interface {
	RegisterConnection(conn *wire.Conn)
}

// Acceptor owns the listening socket.
type Acceptor struct {
	listener  net.Listener
	registrar Registrar
	log       zerolog.Logger
}

// New binds addr and returns an Acceptor ready to Run.
func New(addr string, registrar Registrar, log zerolog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Acceptor{listener: ln, registrar: registrar, log: log}, nil
}

// Addr returns the bound local address.
func (a *Acceptor) Addr() string {
	return a.listener.Addr().String()
}

// Run accepts connections until ctx is cancelled.
func (a *Acceptor) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = a.listener.Close()
	}()

	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				a.log.Error().Err(err).Msg("accept failed")
				return
			}
		}
		go a.handle(conn)
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	peerType, remoteAddr, reader, err := wire.ReadHandshake(conn)
	if err != nil {
		a.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("handshake failed, closing connection")
		_ = conn.Close()
		return
	}
	fc := wire.NewConn(conn, reader, peerType, remoteAddr, a.log)
	a.registrar.RegisterConnection(fc)
}
