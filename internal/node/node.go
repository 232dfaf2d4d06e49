// Package node wires one cluster node's components together: Storage,
// Reaper, the order service, the Coordinator, the CoordinatorManager,
// and the Acceptor, following the two-phase construction described in
// §11 for the Coordinator ↔ CoordinatorManager cycle.
package node

import (
	"context"
	"fmt"

	"foodmesh/internal/acceptor"
	"foodmesh/internal/clustermgr"
	"foodmesh/internal/config"
	"foodmesh/internal/coordinator"
	"foodmesh/internal/httpapi"
	"foodmesh/internal/logging"
	"foodmesh/internal/orders"
	"foodmesh/internal/reaper"
	"foodmesh/internal/storage"
)

// Node is one fully wired cluster coordinator.
type Node struct {
	cfg      config.Config
	selfAddr string
	selfID   string
	ring     []string

	store  *storage.Storage
	reap   *reaper.Reaper
	orders *orders.Service
	mgr    *clustermgr.Manager
	coord  *coordinator.Coordinator
	accept *acceptor.Acceptor

	httpHandler *httpapi.Handler
}

type leaderPromotion struct {
	mgr *clustermgr.Manager
}

func (p leaderPromotion) OnPromotedToLeader() {
	p.mgr.RequestBackfill()
}

// New builds every component for the node at ring index selfIndex,
// binding its TCP acceptor immediately so its address is known before
// Run starts the mailbox goroutines. gatewayAddr is the externally
// visible address of the payment-gateway process this node's order
// service talks to once it becomes leader.
func New(cfg config.Config, host string, selfIndex int, gatewayAddr string) (*Node, error) {
	ring := make([]string, cfg.NumCoordinators)
	for i := 0; i < cfg.NumCoordinators; i++ {
		ring[i] = fmt.Sprintf("%s:%d", host, cfg.BasePort+i)
	}
	selfAddr := ring[selfIndex]
	selfID := fmt.Sprintf("server_%d", selfIndex)

	log := logging.ForNode("node", selfAddr)

	store := storage.New(logging.ForNode("storage", selfAddr))
	reap := reaper.New(cfg.ReapTimeout, store, logging.ForNode("reaper", selfAddr))
	ordersSvc := orders.New(store, gatewayAddr, cfg, logging.ForNode("orders", selfAddr))
	mgr := clustermgr.New(selfAddr, ring, selfID, cfg, store, logging.ForNode("clustermgr", selfAddr))
	coord := coordinator.New(selfAddr, selfID, mgr, store, ordersSvc, reap, cfg, logging.ForNode("coordinator", selfAddr))

	ordersSvc.SetDispatcher(coord)
	mgr.SetPeer(coord, leaderPromotion{mgr: mgr})

	accept, err := acceptor.New(selfAddr, coord, logging.ForNode("acceptor", selfAddr))
	if err != nil {
		return nil, fmt.Errorf("node: bind %s: %w", selfAddr, err)
	}

	n := &Node{
		cfg:         cfg,
		selfAddr:    selfAddr,
		selfID:      selfID,
		ring:        ring,
		store:       store,
		reap:        reap,
		orders:      ordersSvc,
		mgr:         mgr,
		coord:       coord,
		accept:      accept,
		httpHandler: httpapi.NewHandler(mgr, store, ring),
	}
	log.Info().Str("self_id", selfID).Strs("ring", ring).Msg("node constructed")
	return n, nil
}

// SelfAddr returns the node's own externally visible address.
func (n *Node) SelfAddr() string { return n.selfAddr }

// HTTPHandler exposes the diagnostics handler for cmd/ to mount.
func (n *Node) HTTPHandler() *httpapi.Handler { return n.httpHandler }

// Run starts every component's mailbox goroutine and blocks until ctx
// is cancelled.
func (n *Node) Run(ctx context.Context) {
	go n.store.Run(ctx)
	go n.reap.Run(ctx)
	go n.orders.Run(ctx)
	go n.mgr.Run(ctx)
	go n.coord.Run(ctx)
	n.accept.Run(ctx)
}
