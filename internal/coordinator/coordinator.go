// Package coordinator implements the per-node dispatcher described in
// §4.6: it owns every accepted connection and routes inbound
// NetworkMessage traffic to the owning service, never mutating domain
// state itself. Grounded on original_source/server/src/server_actors/coordinator.rs's
// field layout (bimap of socket address ↔ user id, a communicators map,
// pending-registration bookkeeping) re-expressed as one mailbox
// goroutine instead of an actix actor.
package coordinator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"foodmesh/internal/clustermgr"
	"foodmesh/internal/config"
	"foodmesh/internal/nearby"
	"foodmesh/internal/orders"
	"foodmesh/internal/reaper"
	"foodmesh/internal/storage"
	"foodmesh/internal/storagelog"
	"foodmesh/internal/types"
	"foodmesh/internal/wire"
)

// Coordinator is the per-node dispatcher's mailbox.
type Coordinator struct {
	selfAddr string
	selfID   string

	mgr    *clustermgr.Manager
	store  *storage.Storage
	orders *orders.Service
	reaper *reaper.Reaper
	cfg    config.Config
	log    zerolog.Logger

	mailbox chan func(*coordState)
}

type coordState struct {
	// addrToUser is socket_addr ↔ user_id, populated once RegisterUser
	// arrives on a connection; entries accepted but not yet registered
	// have no user_id side.
	addrToUser *storagelog.BiMap[string, string]
	conns      map[string]*wire.Conn
	peerKind   map[string]wire.PeerType
}

// New returns a Coordinator. selfAddr is this node's externally
// visible address; selfID is its "server_<i>" identity.
func New(selfAddr, selfID string, mgr *clustermgr.Manager, store *storage.Storage, ordersSvc *orders.Service, reap *reaper.Reaper, cfg config.Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		selfAddr: selfAddr,
		selfID:   selfID,
		mgr:      mgr,
		store:    store,
		orders:   ordersSvc,
		reaper:   reap,
		cfg:      cfg,
		log:      log,
		mailbox:  make(chan func(*coordState), 256),
	}
}

// Run is the coordinator's mailbox loop.
func (c *Coordinator) Run(ctx context.Context) {
	st := &coordState{
		addrToUser: storagelog.NewBiMap[string, string](),
		conns:      make(map[string]*wire.Conn),
		peerKind:   make(map[string]wire.PeerType),
	}
	for {
		select {
		case fn := <-c.mailbox:
			fn(st)
		case <-ctx.Done():
			return
		}
	}
}

// SendTo implements clustermgr.PeerSender and orders.Dispatcher. addr
// may be a peer coordinator's socket address, or a participant's
// user_id — whichever the connection was registered under.
func (c *Coordinator) SendTo(addr string, msg wire.NetworkMessage) {
	c.mailbox <- func(st *coordState) {
		if conn, ok := st.conns[addr]; ok {
			conn.Send(msg)
			return
		}
		if socketAddr, ok := st.addrToUser.GetByValue(addr); ok {
			if conn, ok := st.conns[socketAddr]; ok {
				conn.Send(msg)
				return
			}
		}
		c.log.Warn().Str("addr", addr).Str("kind", msg.Kind()).Msg("no connection for outbound message, dropping")
	}
}

// RegisterConnection hands off a freshly accepted, framed connection
// (built by the acceptor from a classified handshake) and starts
// pumping its Inbox into the coordinator's own mailbox.
func (c *Coordinator) RegisterConnection(conn *wire.Conn) {
	c.mailbox <- func(st *coordState) {
		st.conns[conn.RemoteAddr] = conn
		st.peerKind[conn.RemoteAddr] = conn.PeerType
	}
	go c.pump(conn)
}

func (c *Coordinator) pump(conn *wire.Conn) {
	for msg := range conn.Inbox {
		c.dispatch(conn.RemoteAddr, msg)
	}
}

func isCoordinatorID(userID string) bool {
	return strings.HasPrefix(userID, "server_")
}

func (c *Coordinator) dispatch(fromAddr string, msg wire.NetworkMessage) {
	switch m := msg.(type) {
	case wire.ConnectionClosed:
		c.handleConnectionClosed(m.RemoteAddr)

	case wire.WhoIsLeader:
		c.handleWhoIsLeader(fromAddr, m)

	case wire.RegisterUser:
		c.handleRegisterUser(fromAddr, m.UserID)

	case wire.RequestNearbyRestaurants:
		restaurants := nearby.Restaurants(c.store, m.Client.Position, c.cfg.NearbyRadius)
		c.SendTo(fromAddr, wire.NearbyRestaurants{Restaurants: restaurants})

	case wire.RequestThisOrder:
		c.orders.RequestOrder(fromAddr, m.Order)

	case wire.AuthorizationResult:
		c.orders.AuthorizationResult(m.Result, m.CorrelationID)

	case wire.PaymentCompleted:
		c.orders.PaymentCompleted(m.Order, m.CorrelationID)

	case wire.UpdateOrderStatus:
		c.orders.UpdateOrderStatus(m.Order)

	case wire.CancelOrder:
		c.orders.RestaurantRejected(m.Order)

	case wire.OrderIsPreparing:
		c.orders.KitchenStarted(m.Order)

	case wire.IAmAvailable:
		// An explicit availability ping from a delivery agent. It is not
		// routed anywhere and does not change the agent's status in
		// storage.

	case wire.AcceptOrder:
		c.orders.AcceptOrder(m.Order, m.DeliveryInfo)

	case wire.OrderDelivered:
		c.orders.OrderDelivered(m.Order)

	case wire.Ping:
		c.mgr.HandlePing(m.From)
	case wire.Pong:
		c.mgr.HandlePong(m.From)
	case wire.LeaderElection:
		c.mgr.HandleLeaderElection(m.Initiator, m.Candidates, m.Term)
	case wire.LeaderIs:
		c.mgr.HandleLeaderIs(m.CoordAddr, m.Term)
	case wire.StorageUpdates:
		c.mgr.HandleStorageUpdates(m.IsLeader, m.Updates)
	case wire.RequestAllStorage:
		c.mgr.HandleRequestAllStorage(m.CoordinatorID, fromAddr)
	case wire.StorageSnapshot:
		c.mgr.HandleStorageSnapshot(m.Snapshot)
	case wire.RequestNewStorageUpdates:
		c.mgr.HandleRequestNewStorageUpdates(fromAddr, m.StartIndex)

	default:
		c.log.Debug().Str("kind", msg.Kind()).Str("from", fromAddr).Msg("unhandled message kind")
	}
}

func (c *Coordinator) handleWhoIsLeader(fromAddr string, m wire.WhoIsLeader) {
	if isCoordinatorID(m.UserID) {
		c.mgr.HandleWhoIsLeader(m.OriginAddr)
		return
	}
	leader := c.mgr.CurrentLeader()
	if leader == "" {
		c.SendTo(fromAddr, wire.RetryLater{OriginAddr: m.OriginAddr})
		return
	}
	c.SendTo(fromAddr, wire.LeaderIs{CoordAddr: leader, Term: c.mgr.CurrentTerm()})
}

func (c *Coordinator) handleRegisterUser(fromAddr, userID string) {
	c.mailbox <- func(st *coordState) {
		st.addrToUser.Insert(fromAddr, userID)
	}
	c.reaper.ReconnectUser(userID)

	if !c.store.HasUser(userID) {
		c.SendTo(fromAddr, wire.NoRecoveredInfo{})
		return
	}

	info := wire.RecoveredInfo{}
	if client, ok := c.store.GetClient(userID); ok {
		info.Client = &client
	} else if restaurant, ok := c.store.GetRestaurant(userID); ok {
		info.Restaurant = &restaurant
	} else if delivery, ok := c.store.GetDelivery(userID); ok {
		if delivery.Status == types.DeliveryReconnecting {
			c.store.SetDeliveryStatus(userID, types.DeliveryRecovering)
		}
		info.Delivery = &delivery
	}
	c.SendTo(fromAddr, info)
}

func (c *Coordinator) handleConnectionClosed(remoteAddr string) {
	c.mailbox <- func(st *coordState) {
		delete(st.conns, remoteAddr)
		delete(st.peerKind, remoteAddr)
		if userID, ok := st.addrToUser.GetByKey(remoteAddr); ok {
			c.reaper.StartReapProcess(userID)
		}
		st.addrToUser.RemoveByKey(remoteAddr)
	}
}
