// Package paymentgw is a reference implementation of the payment
// gateway's wire protocol (§4.4's RequestAuthorization/BillPayment
// exchange), standing in for the external payment processor that the
// order service treats as an out-of-scope collaborator. It exists for
// integration testing: a real deployment would point the cluster at an
// actual payment processor speaking the same protocol.
package paymentgw

import (
	"bufio"
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"foodmesh/internal/config"
	"foodmesh/internal/types"
	"foodmesh/internal/wire"
)

// Gateway dials every coordinator in the ring and answers authorization
// and billing requests with a configurable, probabilistic outcome.
type Gateway struct {
	addr string
	cfg  config.Config
	log  zerolog.Logger
	rng  *rand.Rand
}

// New builds a Gateway that will present itself on the wire as addr.
func New(addr string, cfg config.Config, log zerolog.Logger) *Gateway {
	return &Gateway{
		addr: addr,
		cfg:  cfg,
		log:  log,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run dials every node in ring and serves each connection until ctx is
// cancelled. A node that refuses the initial dial (not yet listening)
// is retried with backoff, since the gateway is not expected to start
// strictly after the cluster nodes.
func (g *Gateway) Run(ctx context.Context, ring []string) {
	for _, nodeAddr := range ring {
		go g.maintainConnection(ctx, nodeAddr)
	}
	<-ctx.Done()
}

func (g *Gateway) maintainConnection(ctx context.Context, nodeAddr string) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := g.dial(nodeAddr)
		if err != nil {
			g.log.Warn().Err(err).Str("node", nodeAddr).Msg("gateway dial failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = 500 * time.Millisecond
		g.serve(ctx, conn)
	}
}

func (g *Gateway) dial(nodeAddr string) (*wire.Conn, error) {
	raw, err := net.Dial("tcp", nodeAddr)
	if err != nil {
		return nil, err
	}
	if err := wire.Handshake(raw, wire.PeerGateway, g.addr); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return wire.NewConn(raw, bufio.NewReaderSize(raw, 4096), wire.PeerGateway, nodeAddr, g.log), nil
}

// serve answers every message on conn until it closes or ctx is done.
func (g *Gateway) serve(ctx context.Context, conn *wire.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Inbox:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case wire.RequestAuthorization:
				g.handleAuthorization(conn, m)
			case wire.BillPayment:
				g.handleBillPayment(conn, m)
			case wire.ConnectionClosed:
				return
			}
		}
	}
}

func (g *Gateway) handleAuthorization(conn *wire.Conn, req wire.RequestAuthorization) {
	order := req.Order.Clone()
	if g.rng.Float64() < g.cfg.PaymentSuccessProbability {
		order.Status = types.OrderAuthorized
	} else {
		order.Status = types.OrderUnauthorized
	}
	conn.Send(wire.AuthorizationResult{Result: order, CorrelationID: req.CorrelationID})
}

func (g *Gateway) handleBillPayment(conn *wire.Conn, req wire.BillPayment) {
	conn.Send(wire.PaymentCompleted{Order: req.Order.Clone(), CorrelationID: req.CorrelationID})
}
