// Package orders implements the order state machine described in
// §4.4: it owns the outbound connection to the payment gateway and is
// the only component authorized to drive an order's status forward,
// delegating every persistent change to storage.
package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"foodmesh/internal/config"
	"foodmesh/internal/metrics"
	"foodmesh/internal/nearby"
	"foodmesh/internal/storage"
	"foodmesh/internal/types"
	"foodmesh/internal/wire"
)

// Dispatcher delivers an outbound NetworkMessage to whichever
// connection the coordinator holds for addr. The order service never
// touches a socket directly — see §4.6's forwarding rule and §5's
// "connections are owned exclusively by the Coordinator."
type Dispatcher interface {
	SendTo(addr string, msg wire.NetworkMessage)
}

type pendingAuth struct {
	orderID    uint64
	clientAddr string
	submitted  time.Time
	bill       bool // true: this CorrelationID belongs to a BillPayment, not a RequestAuthorization
}

// Service is the order state machine's mailbox.
type Service struct {
	store      *storage.Storage
	dispatch   Dispatcher
	gatewayAddr string
	cfg        config.Config
	log        zerolog.Logger

	mailbox chan func(*serviceState)
}

// serviceState is everything the order service's goroutine owns
// exclusively: the in-flight correlation-id map.
type serviceState struct {
	pending map[string]pendingAuth
}

// New returns an order Service. gatewayAddr is the externally visible
// address of the payment gateway this node's leader talks to. The
// Dispatcher is injected afterwards via SetDispatcher, since the
// coordinator that implements it is itself constructed with a handle
// to this Service — the same two-phase setup used for Coordinator ↔
// CoordinatorManager (§11).
func New(store *storage.Storage, gatewayAddr string, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		store:       store,
		gatewayAddr: gatewayAddr,
		cfg:         cfg,
		log:         log,
		mailbox:     make(chan func(*serviceState), 256),
	}
}

// SetDispatcher closes the construction cycle with the coordinator
// that routes this service's outbound messages.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatch = d
}

// Run is the order service's mailbox loop plus its
// TIMEOUT_LEADER_RESPONSE sweep ticker.
func (s *Service) Run(ctx context.Context) {
	st := &serviceState{pending: make(map[string]pendingAuth)}
	ticker := time.NewTicker(s.cfg.TimeoutLeaderResponse / 2)
	defer ticker.Stop()

	for {
		select {
		case fn := <-s.mailbox:
			fn(st)
		case <-ticker.C:
			s.evictExpired(st)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) evictExpired(st *serviceState) {
	cutoff := time.Now().Add(-s.cfg.TimeoutLeaderResponse)
	for id, p := range st.pending {
		if p.submitted.After(cutoff) {
			continue
		}
		delete(st.pending, id)
		if p.bill {
			s.log.Warn().Str("correlation_id", id).Uint64("order_id", p.orderID).Msg("bill payment timed out, dropping")
			continue
		}
		s.log.Warn().Str("correlation_id", id).Uint64("order_id", p.orderID).Msg("authorization timed out, resolving unauthorized")
		s.resolveUnauthorized(p.orderID, p.clientAddr)
	}
}

// --- inbound entry points, each hopping onto the mailbox goroutine ---

// RequestOrder begins the state machine for a brand-new order placed
// by a client.
func (s *Service) RequestOrder(clientAddr string, order types.OrderDTO) {
	s.mailbox <- func(st *serviceState) {
		order.Status = types.OrderRequested
		corrID := uuid.NewString()
		st.pending[corrID] = pendingAuth{orderID: order.OrderID, clientAddr: clientAddr, submitted: time.Now()}
		s.dispatch.SendTo(s.gatewayAddr, wire.RequestAuthorization{
			OriginAddr:    clientAddr,
			Order:         order,
			CorrelationID: corrID,
		})
	}
}

// AuthorizationResult handles the gateway's reply to RequestAuthorization.
func (s *Service) AuthorizationResult(result types.OrderDTO, correlationID string) {
	s.mailbox <- func(st *serviceState) {
		p, ok := st.pending[correlationID]
		if !ok {
			s.log.Warn().Str("correlation_id", correlationID).Msg("authorization result with no pending request, dropping")
			return
		}
		delete(st.pending, correlationID)

		if result.Status == types.OrderUnauthorized {
			s.resolveUnauthorized(p.orderID, p.clientAddr)
			return
		}

		result.Status = types.OrderAuthorized
		metrics.OrdersPlaced.Inc()
		s.store.AddOrder(result)
		s.store.SetClientOrder(result.ClientID, &result.OrderID)
		s.dispatch.SendTo(result.RestaurantID, wire.NewOrder{Order: result})
		s.notifyClient(p.clientAddr, result)
	}
}

func (s *Service) resolveUnauthorized(orderID uint64, clientAddr string) {
	metrics.OrdersCancelled.Inc()
	rejected := types.OrderDTO{OrderID: orderID, Status: types.OrderUnauthorized}
	s.notifyClient(clientAddr, rejected)
}

func (s *Service) notifyClient(clientAddr string, order types.OrderDTO) {
	s.dispatch.SendTo(clientAddr, wire.NotifyOrderUpdated{Order: order})
}

// RestaurantRejected cancels an order the kitchen declined.
func (s *Service) RestaurantRejected(order types.OrderDTO) {
	s.mailbox <- func(st *serviceState) {
		metrics.OrdersCancelled.Inc()
		s.store.SetOrderStatus(order.OrderID, types.OrderCancelled)
		s.store.RemoveOrder(order.OrderID)
		s.store.SetClientOrder(order.ClientID, nil)
		s.notifyClient(order.ClientID, types.OrderDTO{OrderID: order.OrderID, Status: types.OrderCancelled})
	}
}

// KitchenStarted moves an order from Pending to Preparing.
func (s *Service) KitchenStarted(order types.OrderDTO) {
	s.mailbox <- func(st *serviceState) {
		current, ok := s.store.GetOrder(order.OrderID)
		if !ok || current.Status != types.OrderPending {
			s.log.Warn().Uint64("order_id", order.OrderID).Msg("kitchen-started for order not Pending, dropping")
			return
		}
		s.store.SetOrderStatus(order.OrderID, types.OrderPreparing)
		s.store.RemovePendingOrderFromRestaurant(order.RestaurantID, order.OrderID)
		s.store.AddAuthorizedOrderToRestaurant(order.RestaurantID, order)
	}
}

// kitchenReady moves Preparing to ReadyForDelivery and starts the
// delivery auction by broadcasting an offer to nearby available
// delivery agents. Called on the mailbox goroutine only.
func (s *Service) kitchenReady(order types.OrderDTO, restaurantPos types.Position) {
	current, ok := s.store.GetOrder(order.OrderID)
	if !ok || current.Status != types.OrderPreparing {
		s.log.Warn().Uint64("order_id", order.OrderID).Msg("kitchen-ready for order not Preparing, dropping")
		return
	}
	s.store.SetOrderStatus(order.OrderID, types.OrderReadyForDelivery)
	current.Status = types.OrderReadyForDelivery

	restInfo := types.RestaurantInfo{ID: order.RestaurantID, Position: restaurantPos}
	candidates := nearby.Deliveries(s.store, restaurantPos, s.cfg.NearbyRadius)
	if len(candidates) == 0 {
		s.log.Warn().Uint64("order_id", order.OrderID).Msg("no delivery agents available, cancelling order")
		metrics.OrdersCancelled.Inc()
		s.store.SetOrderStatus(order.OrderID, types.OrderCancelled)
		s.store.RemoveOrder(order.OrderID)
		s.store.SetClientOrder(order.ClientID, nil)
		s.notifyClient(order.ClientID, types.OrderDTO{OrderID: order.OrderID, Status: types.OrderCancelled})
		return
	}
	for _, d := range candidates {
		s.dispatch.SendTo(d.DeliveryID, wire.NewOfferToDeliver{Order: current, RestaurantInfo: restInfo})
	}
}

// AcceptOrder handles one delivery agent's bid for an order's
// auction, forwarding it to storage's at-most-one-winner policy
// (§4.2) and relaying the verdict.
func (s *Service) AcceptOrder(order types.OrderDTO, delivery types.DeliveryDTO) {
	s.mailbox <- func(st *serviceState) {
		outcome := s.store.AddOrderAccepted(order.OrderID, delivery.DeliveryID)
		if outcome == storage.OutcomeDeliveryNoNeeded {
			s.dispatch.SendTo(delivery.DeliveryID, wire.DeliveryNoNeeded{Order: order})
			return
		}

		deliveryID := delivery.DeliveryID
		s.store.SetOrderStatus(order.OrderID, types.OrderDelivering)
		s.store.SetDeliveryToOrder(order.OrderID, &deliveryID)
		s.store.SetCurrentOrderToDelivery(deliveryID, &order.OrderID)
		clientID := order.ClientID
		s.store.SetCurrentClientToDelivery(deliveryID, &clientID)
		s.store.RemoveAuthorizedOrderFromRestaurant(order.RestaurantID, order.OrderID)
		s.store.SetDeliveryStatus(deliveryID, types.DeliveryDeliveringSt)

		s.dispatch.SendTo(deliveryID, wire.DeliveryAvailable{Order: order})
	}
}

// OrderDelivered closes out the delivery leg and kicks off final
// billing.
func (s *Service) OrderDelivered(order types.OrderDTO) {
	s.mailbox <- func(st *serviceState) {
		current, ok := s.store.GetOrder(order.OrderID)
		if !ok || current.Status != types.OrderDelivering {
			s.log.Warn().Uint64("order_id", order.OrderID).Msg("order-delivered for order not Delivering, dropping")
			return
		}
		s.store.SetOrderStatus(order.OrderID, types.OrderDelivered)
		metrics.OrdersDelivered.Inc()
		current.Status = types.OrderDelivered
		s.dispatch.SendTo(order.ClientID, wire.OrderFinalized{Order: current})

		if current.DeliveryID != nil {
			s.store.SetDeliveryStatus(*current.DeliveryID, types.DeliveryAvailableSt)
			s.store.SetCurrentOrderToDelivery(*current.DeliveryID, nil)
			s.store.SetCurrentClientToDelivery(*current.DeliveryID, nil)
		}
		s.store.RemoveAcceptedDelivery(order.OrderID)

		corrID := uuid.NewString()
		st.pending[corrID] = pendingAuth{orderID: order.OrderID, clientAddr: order.ClientID, submitted: time.Now(), bill: true}
		s.dispatch.SendTo(s.gatewayAddr, wire.BillPayment{
			OriginAddr:    order.ClientID,
			Order:         current,
			CorrelationID: corrID,
		})
	}
}

// PaymentCompleted finishes the order's lifecycle: the bill has been
// settled, so the order is removed from storage entirely.
func (s *Service) PaymentCompleted(order types.OrderDTO, correlationID string) {
	s.mailbox <- func(st *serviceState) {
		if _, ok := st.pending[correlationID]; !ok {
			s.log.Warn().Str("correlation_id", correlationID).Msg("payment completed with no pending bill, dropping")
			return
		}
		delete(st.pending, correlationID)

		s.store.RemoveOrder(order.OrderID)
		s.store.SetClientOrder(order.ClientID, nil)
		s.notifyClient(order.ClientID, types.OrderDTO{OrderID: order.OrderID, Status: types.OrderDelivered})
	}
}

// UpdateOrderStatus handles an UpdateOrderStatus message arriving from
// a restaurant or a delivery agent with the status it has reached; an
// unexpected transition is logged and dropped, never applied.
func (s *Service) UpdateOrderStatus(order types.OrderDTO) {
	s.mailbox <- func(st *serviceState) {
		current, ok := s.store.GetOrder(order.OrderID)
		if !ok {
			s.log.Warn().Uint64("order_id", order.OrderID).Msg("update-order-status for unknown order, dropping")
			return
		}
		switch order.Status {
		case types.OrderPending:
			if current.Status != types.OrderAuthorized {
				s.log.Warn().Uint64("order_id", order.OrderID).Msg("unexpected transition to Pending, dropping")
				return
			}
			s.store.SetOrderStatus(order.OrderID, types.OrderPending)
			s.store.AddPendingOrderToRestaurant(order.RestaurantID, order)
		case types.OrderPreparing:
			if current.Status != types.OrderPending {
				s.log.Warn().Uint64("order_id", order.OrderID).Msg("unexpected transition to Preparing, dropping")
				return
			}
			s.store.SetOrderStatus(order.OrderID, types.OrderPreparing)
			s.store.RemovePendingOrderFromRestaurant(order.RestaurantID, order.OrderID)
			s.store.AddAuthorizedOrderToRestaurant(order.RestaurantID, order)
		case types.OrderReadyForDelivery:
			if current.Status != types.OrderPreparing {
				s.log.Warn().Uint64("order_id", order.OrderID).Msg("unexpected transition to ReadyForDelivery, dropping")
				return
			}
			restaurant, ok := s.store.GetRestaurant(order.RestaurantID)
			if !ok {
				s.log.Warn().Uint64("order_id", order.OrderID).Str("restaurant_id", order.RestaurantID).
					Msg("ready-for-delivery from unknown restaurant, dropping")
				return
			}
			s.kitchenReady(current, restaurant.Position)
		default:
			s.log.Warn().Uint64("order_id", order.OrderID).Str("status", string(order.Status)).
				Msg("unexpected order status update, dropping")
		}
	}
}
