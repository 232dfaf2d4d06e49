package storage

import (
	"time"

	"foodmesh/internal/storagelog"
	"foodmesh/internal/types"
)

// state holds every entity table, the accepted-delivery bimap, and the
// log. It is only ever touched from the single goroutine running
// Storage.Run — see storage.go's exec/call helpers — so none of these
// fields need their own locking.
type state struct {
	clients     map[string]types.ClientDTO
	restaurants map[string]types.RestaurantDTO
	deliveries  map[string]types.DeliveryDTO
	orders      map[uint64]types.OrderDTO

	acceptedDeliveries *storagelog.BiMap[uint64, string]

	log                   map[uint64]storagelog.Op
	nextLogID             uint64
	minPersistentLogIndex uint64
}

func newState() *state {
	return &state{
		clients:            make(map[string]types.ClientDTO),
		restaurants:        make(map[string]types.RestaurantDTO),
		deliveries:         make(map[string]types.DeliveryDTO),
		orders:             make(map[uint64]types.OrderDTO),
		acceptedDeliveries: storagelog.NewBiMap[uint64, string](),
		log:                make(map[uint64]storagelog.Op),
	}
}

func now() time.Time { return time.Now() }

// mutate applies op's table-side effect (via applyOp, the single
// source of truth shared with log replay) and then appends op to the
// log at the next available id. Every public mutator is built on this
// so that "update the table, then append a log entry" (§4.2) can never
// be done out of order or only halfway.
func (s *state) mutate(op storagelog.Op) {
	applyOp(s, op)
	id := s.nextLogID
	s.log[id] = op
	s.nextLogID++
}

// --- primary mutators ---

func (s *state) addClient(c types.ClientDTO) {
	c.UpdatedAt = now()
	s.mutate(storagelog.AddClient{Client: c})
}

func (s *state) removeClient(id string) {
	s.mutate(storagelog.RemoveClient{ClientID: id})
}

func (s *state) addRestaurant(r types.RestaurantDTO) {
	r.UpdatedAt = now()
	if r.AuthorizedOrders == nil {
		r.AuthorizedOrders = make(map[uint64]types.OrderDTO)
	}
	if r.PendingOrders == nil {
		r.PendingOrders = make(map[uint64]types.OrderDTO)
	}
	s.mutate(storagelog.AddRestaurant{Restaurant: r})
}

func (s *state) removeRestaurant(id string) {
	s.mutate(storagelog.RemoveRestaurant{RestaurantID: id})
}

func (s *state) addDelivery(d types.DeliveryDTO) {
	d.UpdatedAt = now()
	s.mutate(storagelog.AddDelivery{Delivery: d})
}

func (s *state) removeDelivery(id string) {
	s.mutate(storagelog.RemoveDelivery{DeliveryID: id})
}

func (s *state) addOrder(o types.OrderDTO) {
	o.UpdatedAt = now()
	s.mutate(storagelog.AddOrder{Order: o})
}

// removeOrder deletes the order only. Unlike a naive port, it never
// also removes the owning client — clearing a client's dangling order
// reference is a separate SetClientOrder(nil) mutation at the call
// site.
func (s *state) removeOrder(id uint64) {
	s.mutate(storagelog.RemoveOrder{OrderID: id})
}

func (s *state) setClientPosition(id string, pos types.Position) {
	if _, ok := s.clients[id]; !ok {
		return
	}
	s.mutate(storagelog.SetClientPosition{ClientID: id, Position: pos})
}

func (s *state) setRestaurantPosition(id string, pos types.Position) {
	if _, ok := s.restaurants[id]; !ok {
		return
	}
	s.mutate(storagelog.SetRestaurantPosition{RestaurantID: id, Position: pos})
}

func (s *state) setDeliveryPosition(id string, pos types.Position) {
	if _, ok := s.deliveries[id]; !ok {
		return
	}
	s.mutate(storagelog.SetDeliveryPosition{DeliveryID: id, Position: pos})
}

func (s *state) setOrderStatus(id uint64, status types.OrderStatus) {
	if _, ok := s.orders[id]; !ok {
		return
	}
	s.mutate(storagelog.SetOrderStatus{OrderID: id, Status: status})
}

func (s *state) setDeliveryStatus(id string, status types.DeliveryStatus) {
	if _, ok := s.deliveries[id]; !ok {
		return
	}
	s.mutate(storagelog.SetDeliveryStatus{DeliveryID: id, Status: status})
}

func (s *state) setClientOrder(clientID string, orderID *uint64) {
	if _, ok := s.clients[clientID]; !ok {
		return
	}
	s.mutate(storagelog.SetClientOrder{ClientID: clientID, OrderID: orderID})
}

func (s *state) setCurrentOrderToDelivery(deliveryID string, orderID *uint64) {
	if _, ok := s.deliveries[deliveryID]; !ok {
		return
	}
	s.mutate(storagelog.SetCurrentOrderToDelivery{DeliveryID: deliveryID, OrderID: orderID})
}

func (s *state) setCurrentClientToDelivery(deliveryID string, clientID *string) {
	if _, ok := s.deliveries[deliveryID]; !ok {
		return
	}
	s.mutate(storagelog.SetCurrentClientToDelivery{DeliveryID: deliveryID, ClientID: clientID})
}

func (s *state) setDeliveryToOrder(orderID uint64, deliveryID *string) {
	if _, ok := s.orders[orderID]; !ok {
		return
	}
	s.mutate(storagelog.SetDeliveryToOrder{OrderID: orderID, DeliveryID: deliveryID})
}

// addAuthorizedOrderToRestaurant and the three sibling set-mutators
// below enforce invariant 1 (§10 of SPEC_FULL.md): an order lives in at
// most one of a restaurant's two sets at a time.
func (s *state) addAuthorizedOrderToRestaurant(restaurantID string, order types.OrderDTO) {
	if _, ok := s.restaurants[restaurantID]; !ok {
		return
	}
	s.mutate(storagelog.AddAuthorizedOrderToRestaurant{RestaurantID: restaurantID, Order: order})
}

func (s *state) removeAuthorizedOrderFromRestaurant(restaurantID string, orderID uint64) {
	if _, ok := s.restaurants[restaurantID]; !ok {
		return
	}
	s.mutate(storagelog.RemoveAuthorizedOrderFromRestaurant{RestaurantID: restaurantID, OrderID: orderID})
}

func (s *state) addPendingOrderToRestaurant(restaurantID string, order types.OrderDTO) {
	if _, ok := s.restaurants[restaurantID]; !ok {
		return
	}
	s.mutate(storagelog.AddPendingOrderToRestaurant{RestaurantID: restaurantID, Order: order})
}

func (s *state) removePendingOrderFromRestaurant(restaurantID string, orderID uint64) {
	if _, ok := s.restaurants[restaurantID]; !ok {
		return
	}
	s.mutate(storagelog.RemovePendingOrderFromRestaurant{RestaurantID: restaurantID, OrderID: orderID})
}

func (s *state) setExpectedDeliveryTime(orderID uint64, seconds uint64) {
	if _, ok := s.orders[orderID]; !ok {
		return
	}
	s.mutate(storagelog.SetExpectedDeliveryTime{OrderID: orderID, ExpectedTime: seconds})
}

func (s *state) insertAcceptedDelivery(orderID uint64, deliveryID string) {
	s.mutate(storagelog.InsertAcceptedDelivery{OrderID: orderID, DeliveryID: deliveryID})
}

func (s *state) removeAcceptedDelivery(orderID uint64) {
	s.mutate(storagelog.RemoveAcceptedDelivery{OrderID: orderID})
}

// removeUser dispatches by whichever table actually contains id,
// mirroring the dispatch-by-containment RemoveUser handler this is
// grounded on, without that version's bug of also deleting an
// unrelated client when removing an order.
func (s *state) removeUser(id string) {
	if _, ok := s.clients[id]; ok {
		s.removeClient(id)
		return
	}
	if _, ok := s.restaurants[id]; ok {
		s.removeRestaurant(id)
		return
	}
	if _, ok := s.deliveries[id]; ok {
		s.removeDelivery(id)
	}
}
