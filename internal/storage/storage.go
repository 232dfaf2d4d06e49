// Package storage implements the leaf-most stateful component: the
// authoritative in-memory entity tables, the accepted-delivery bimap,
// and the append-only operation log every other component replays
// from. It runs as a single goroutine owning all of this state, per
// the structured-concurrency re-architecture in SPEC_FULL.md §11 — no
// other goroutine ever reaches into state directly.
package storage

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"foodmesh/internal/storagelog"
	"foodmesh/internal/types"
)

// Storage is the mailbox handle callers use; the actual entity tables
// live in the unexported state type, touched only from Run's goroutine.
type Storage struct {
	mailbox chan func()
	st      *state
	log     zerolog.Logger
}

// New returns a Storage with empty tables. Call Run in its own
// goroutine before issuing any request.
func New(log zerolog.Logger) *Storage {
	return &Storage{
		mailbox: make(chan func(), 256),
		st:      newState(),
		log:     log,
	}
}

// Run processes the mailbox until ctx is cancelled. It must be the
// only goroutine that ever touches Storage's internal state.
func (s *Storage) Run(ctx context.Context) {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// exec runs fn on the owning goroutine and waits for it to finish,
// without returning a value.
func (s *Storage) exec(fn func(*state)) {
	done := make(chan struct{})
	s.mailbox <- func() {
		fn(s.st)
		close(done)
	}
	<-done
}

// call runs fn on the owning goroutine and returns its result.
func call[T any](s *Storage, fn func(*state) T) T {
	resultCh := make(chan T, 1)
	s.mailbox <- func() {
		resultCh <- fn(s.st)
	}
	return <-resultCh
}

// --- mutators ---

func (s *Storage) AddClient(c types.ClientDTO)         { s.exec(func(st *state) { st.addClient(c) }) }
func (s *Storage) RemoveClient(id string)              { s.exec(func(st *state) { st.removeClient(id) }) }
func (s *Storage) AddRestaurant(r types.RestaurantDTO)  { s.exec(func(st *state) { st.addRestaurant(r) }) }
func (s *Storage) RemoveRestaurant(id string)           { s.exec(func(st *state) { st.removeRestaurant(id) }) }
func (s *Storage) AddDelivery(d types.DeliveryDTO)      { s.exec(func(st *state) { st.addDelivery(d) }) }
func (s *Storage) RemoveDelivery(id string)             { s.exec(func(st *state) { st.removeDelivery(id) }) }
func (s *Storage) AddOrder(o types.OrderDTO)            { s.exec(func(st *state) { st.addOrder(o) }) }
func (s *Storage) RemoveOrder(id uint64)                { s.exec(func(st *state) { st.removeOrder(id) }) }
func (s *Storage) RemoveUser(id string)                 { s.exec(func(st *state) { st.removeUser(id) }) }

func (s *Storage) SetClientPosition(id string, pos types.Position) {
	s.exec(func(st *state) { st.setClientPosition(id, pos) })
}

func (s *Storage) SetRestaurantPosition(id string, pos types.Position) {
	s.exec(func(st *state) { st.setRestaurantPosition(id, pos) })
}

func (s *Storage) SetDeliveryPosition(id string, pos types.Position) {
	s.exec(func(st *state) { st.setDeliveryPosition(id, pos) })
}

func (s *Storage) SetOrderStatus(id uint64, status types.OrderStatus) {
	s.exec(func(st *state) { st.setOrderStatus(id, status) })
}

func (s *Storage) SetDeliveryStatus(id string, status types.DeliveryStatus) {
	s.exec(func(st *state) { st.setDeliveryStatus(id, status) })
}

func (s *Storage) SetClientOrder(clientID string, orderID *uint64) {
	s.exec(func(st *state) { st.setClientOrder(clientID, orderID) })
}

// SetCurrentOrderToDelivery no-ops (logging, not corrupting state) if
// orderID is nil, matching §4.4's tie-break rule for this exact case.
func (s *Storage) SetCurrentOrderToDelivery(deliveryID string, orderID *uint64) {
	if orderID == nil {
		s.log.Warn().Str("delivery_id", deliveryID).Msg("SetCurrentOrderToDelivery with no order id, ignoring")
		return
	}
	s.exec(func(st *state) { st.setCurrentOrderToDelivery(deliveryID, orderID) })
}

func (s *Storage) SetCurrentClientToDelivery(deliveryID string, clientID *string) {
	s.exec(func(st *state) { st.setCurrentClientToDelivery(deliveryID, clientID) })
}

func (s *Storage) SetDeliveryToOrder(orderID uint64, deliveryID *string) {
	s.exec(func(st *state) { st.setDeliveryToOrder(orderID, deliveryID) })
}

func (s *Storage) AddAuthorizedOrderToRestaurant(restaurantID string, order types.OrderDTO) {
	s.exec(func(st *state) { st.addAuthorizedOrderToRestaurant(restaurantID, order) })
}

func (s *Storage) RemoveAuthorizedOrderFromRestaurant(restaurantID string, orderID uint64) {
	s.exec(func(st *state) { st.removeAuthorizedOrderFromRestaurant(restaurantID, orderID) })
}

func (s *Storage) AddPendingOrderToRestaurant(restaurantID string, order types.OrderDTO) {
	s.exec(func(st *state) { st.addPendingOrderToRestaurant(restaurantID, order) })
}

func (s *Storage) RemovePendingOrderFromRestaurant(restaurantID string, orderID uint64) {
	s.exec(func(st *state) { st.removePendingOrderFromRestaurant(restaurantID, orderID) })
}

func (s *Storage) SetExpectedDeliveryTime(orderID uint64, seconds uint64) {
	s.exec(func(st *state) { st.setExpectedDeliveryTime(orderID, seconds) })
}

// --- readers ---

func (s *Storage) GetClient(id string) (types.ClientDTO, bool) {
	return call(s, func(st *state) types.ClientDTO { return st.clients[id] }), s.hasClient(id)
}

func (s *Storage) hasClient(id string) bool {
	return call(s, func(st *state) bool { _, ok := st.clients[id]; return ok })
}

func (s *Storage) GetRestaurant(id string) (types.RestaurantDTO, bool) {
	var found bool
	r := call(s, func(st *state) types.RestaurantDTO {
		v, ok := st.restaurants[id]
		found = ok
		return v
	})
	return r, found
}

func (s *Storage) GetDelivery(id string) (types.DeliveryDTO, bool) {
	var found bool
	d := call(s, func(st *state) types.DeliveryDTO {
		v, ok := st.deliveries[id]
		found = ok
		return v
	})
	return d, found
}

func (s *Storage) GetOrder(id uint64) (types.OrderDTO, bool) {
	var found bool
	o := call(s, func(st *state) types.OrderDTO {
		v, ok := st.orders[id]
		found = ok
		return v
	})
	return o, found
}

// HasUser reports whether any entity (client, restaurant, or delivery)
// is registered under id, used by the coordinator to decide between
// RecoveredInfo and NoRecoveredInfo on RegisterUser.
func (s *Storage) HasUser(id string) bool {
	return call(s, func(st *state) bool {
		if _, ok := st.clients[id]; ok {
			return true
		}
		if _, ok := st.restaurants[id]; ok {
			return true
		}
		if _, ok := st.deliveries[id]; ok {
			return true
		}
		return false
	})
}

// GetRestaurants returns every restaurant, ordered by id for
// deterministic iteration in tests and logs.
func (s *Storage) GetRestaurants() []types.RestaurantDTO {
	return call(s, func(st *state) []types.RestaurantDTO {
		out := make([]types.RestaurantDTO, 0, len(st.restaurants))
		for _, r := range st.restaurants {
			out = append(out, r.Clone())
		}
		sort.Slice(out, func(i, j int) bool { return out[i].RestaurantID < out[j].RestaurantID })
		return out
	})
}

// GetAllRestaurantsInfo projects every restaurant down to its (id,
// position), the shape handed to clients browsing nearby restaurants.
func (s *Storage) GetAllRestaurantsInfo() []types.RestaurantInfo {
	return call(s, func(st *state) []types.RestaurantInfo {
		out := make([]types.RestaurantInfo, 0, len(st.restaurants))
		for _, r := range st.restaurants {
			out = append(out, types.RestaurantInfo{ID: r.RestaurantID, Position: r.Position})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out
	})
}

// GetDeliveries returns every delivery agent, optionally filtered to
// those currently Available.
func (s *Storage) GetDeliveries(onlyAvailable bool) []types.DeliveryDTO {
	return call(s, func(st *state) []types.DeliveryDTO {
		out := make([]types.DeliveryDTO, 0, len(st.deliveries))
		for _, d := range st.deliveries {
			if onlyAvailable && d.Status != types.DeliveryAvailableSt {
				continue
			}
			out = append(out, d)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].DeliveryID < out[j].DeliveryID })
		return out
	})
}

// GetAllAvailableDeliveries is GetDeliveries(true) under the name used
// by the reap scenario in SPEC_FULL.md §10.
func (s *Storage) GetAllAvailableDeliveries() []types.DeliveryDTO {
	return s.GetDeliveries(true)
}

// --- accepted-delivery auction policy (§4.2) ---

// AcceptOutcome is the storage's reply to AddOrderAccepted.
type AcceptOutcome int

const (
	OutcomeDeliveryAvailable AcceptOutcome = iota
	OutcomeDeliveryNoNeeded
)

// AddOrderAccepted applies the four-step, short-circuiting
// at-most-one-winner policy from §4.2. Each predicate returns
// immediately on the first failing check — there is no fall-through
// into later checks once one has already decided the outcome.
func (s *Storage) AddOrderAccepted(orderID uint64, deliveryID string) AcceptOutcome {
	return call(s, func(st *state) AcceptOutcome {
		order, ok := st.orders[orderID]
		if !ok || order.Status != types.OrderReadyForDelivery {
			return OutcomeDeliveryNoNeeded
		}
		if st.acceptedDeliveries.ContainsKey(orderID) {
			return OutcomeDeliveryNoNeeded
		}
		if st.acceptedDeliveries.ContainsValue(deliveryID) {
			return OutcomeDeliveryNoNeeded
		}
		st.insertAcceptedDelivery(orderID, deliveryID)
		return OutcomeDeliveryAvailable
	})
}

func (s *Storage) InsertAcceptedDelivery(orderID uint64, deliveryID string) {
	s.exec(func(st *state) { st.insertAcceptedDelivery(orderID, deliveryID) })
}

func (s *Storage) RemoveAcceptedDelivery(orderID uint64) {
	s.exec(func(st *state) { st.removeAcceptedDelivery(orderID) })
}

func (s *Storage) AcceptedDeliveryFor(orderID uint64) (string, bool) {
	return call(s, func(st *state) (string, bool) { return st.acceptedDeliveries.GetByKey(orderID) })
}

// --- recovery / replication (§4.2, §4.7) ---

// GetMinLogIndex returns min_persistent_log_index.
func (s *Storage) GetMinLogIndex() uint64 {
	return call(s, func(st *state) uint64 { return st.minPersistentLogIndex })
}

// NextLogID returns next_log_id.
func (s *Storage) NextLogID() uint64 {
	return call(s, func(st *state) uint64 { return st.nextLogID })
}

// GetLogsFromIndex returns every retained entry with id >= from,
// ordered by id.
func (s *Storage) GetLogsFromIndex(from uint64) []storagelog.Entry {
	return call(s, func(st *state) []storagelog.Entry {
		var ids []uint64
		for id := range st.log {
			if id >= from {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]storagelog.Entry, 0, len(ids))
		for _, id := range ids {
			out = append(out, storagelog.Entry{ID: id, Op: st.log[id]})
		}
		return out
	})
}

// ApplyStorageUpdates is the replication handler. On the leader
// (isLeader=true) incoming entries confirm durability: each id is
// pruned from the local log and min_persistent_log_index advances to
// max(id)+1. On a follower, the batch is ground truth: local entries
// whose id falls inside the batch's own [min,max] span but are absent
// from the batch are deleted (resolving Open Question 1 — see
// SPEC_FULL.md §4.2), and entries present in the batch but missing
// locally are replayed through applyOp and inserted at their given id.
func (s *Storage) ApplyStorageUpdates(isLeader bool, updates []storagelog.Entry) {
	if len(updates) == 0 {
		return
	}
	s.exec(func(st *state) {
		if isLeader {
			maxID := updates[0].ID
			for _, u := range updates {
				delete(st.log, u.ID)
				if u.ID > maxID {
					maxID = u.ID
				}
			}
			if maxID+1 > st.minPersistentLogIndex {
				st.minPersistentLogIndex = maxID + 1
			}
			return
		}

		minID, maxID := updates[0].ID, updates[0].ID
		present := make(map[uint64]bool, len(updates))
		for _, u := range updates {
			present[u.ID] = true
			if u.ID < minID {
				minID = u.ID
			}
			if u.ID > maxID {
				maxID = u.ID
			}
		}
		for id := range st.log {
			if id >= minID && id <= maxID && !present[id] {
				delete(st.log, id)
			}
		}
		for _, u := range updates {
			if _, already := st.log[u.ID]; already {
				continue
			}
			applyOp(st, u.Op)
			st.log[u.ID] = u.Op
			if u.ID >= st.nextLogID {
				st.nextLogID = u.ID + 1
			}
		}
	})
}

// Snapshot is a point-in-time copy of every entity table plus the log
// watermarks, produced for followers lagging beyond the leader's
// retained window.
type Snapshot struct {
	Clients               map[string]types.ClientDTO     `json:"clients"`
	Restaurants           map[string]types.RestaurantDTO  `json:"restaurants"`
	Deliveries            map[string]types.DeliveryDTO    `json:"deliveries"`
	Orders                map[uint64]types.OrderDTO       `json:"orders"`
	AcceptedDeliveries    map[uint64]string               `json:"accepted_deliveries"`
	NextLogID             uint64                          `json:"next_log_id"`
	MinPersistentLogIndex uint64                          `json:"min_persistent_log_index"`
}

// GetAllStorage produces a Snapshot of the current state.
func (s *Storage) GetAllStorage() Snapshot {
	return call(s, func(st *state) Snapshot {
		snap := Snapshot{
			Clients:               make(map[string]types.ClientDTO, len(st.clients)),
			Restaurants:           make(map[string]types.RestaurantDTO, len(st.restaurants)),
			Deliveries:            make(map[string]types.DeliveryDTO, len(st.deliveries)),
			Orders:                make(map[uint64]types.OrderDTO, len(st.orders)),
			AcceptedDeliveries:    st.acceptedDeliveries.Pairs(),
			NextLogID:             st.nextLogID,
			MinPersistentLogIndex: st.minPersistentLogIndex,
		}
		for k, v := range st.clients {
			snap.Clients[k] = v
		}
		for k, v := range st.restaurants {
			snap.Restaurants[k] = v.Clone()
		}
		for k, v := range st.deliveries {
			snap.Deliveries[k] = v
		}
		for k, v := range st.orders {
			snap.Orders[k] = v.Clone()
		}
		return snap
	})
}

// ApplyStorageSnapshot replaces every table wholesale, used by a
// follower that has fallen behind the leader's retained log window.
func (s *Storage) ApplyStorageSnapshot(snap Snapshot) {
	s.exec(func(st *state) {
		st.clients = snap.Clients
		if st.clients == nil {
			st.clients = make(map[string]types.ClientDTO)
		}
		st.restaurants = snap.Restaurants
		if st.restaurants == nil {
			st.restaurants = make(map[string]types.RestaurantDTO)
		}
		st.deliveries = snap.Deliveries
		if st.deliveries == nil {
			st.deliveries = make(map[string]types.DeliveryDTO)
		}
		st.orders = snap.Orders
		if st.orders == nil {
			st.orders = make(map[uint64]types.OrderDTO)
		}
		st.acceptedDeliveries = storagelog.NewBiMap[uint64, string]()
		for orderID, deliveryID := range snap.AcceptedDeliveries {
			st.acceptedDeliveries.Insert(orderID, deliveryID)
		}
		st.nextLogID = snap.NextLogID
		st.minPersistentLogIndex = snap.MinPersistentLogIndex
		st.log = make(map[uint64]storagelog.Op)
	})
}
