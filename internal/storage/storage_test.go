package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodmesh/internal/storagelog"
	"foodmesh/internal/types"
)

func newTestStorage(t *testing.T) (*Storage, context.CancelFunc) {
	t.Helper()
	s := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, cancel
}

func TestAddOrderAcceptedAtMostOneWinner(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddOrder(types.OrderDTO{OrderID: 1, Status: types.OrderReadyForDelivery})

	first := s.AddOrderAccepted(1, "delivery-a")
	second := s.AddOrderAccepted(1, "delivery-b")

	assert.Equal(t, OutcomeDeliveryAvailable, first)
	assert.Equal(t, OutcomeDeliveryNoNeeded, second)

	winner, ok := s.AcceptedDeliveryFor(1)
	require.True(t, ok)
	assert.Equal(t, "delivery-a", winner)
}

func TestAddOrderAcceptedRejectsWrongStatus(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddOrder(types.OrderDTO{OrderID: 2, Status: types.OrderPreparing})

	outcome := s.AddOrderAccepted(2, "delivery-a")
	assert.Equal(t, OutcomeDeliveryNoNeeded, outcome)
}

func TestAddOrderAcceptedRejectsDeliveryAlreadyCommitted(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddOrder(types.OrderDTO{OrderID: 3, Status: types.OrderReadyForDelivery})
	s.AddOrder(types.OrderDTO{OrderID: 4, Status: types.OrderReadyForDelivery})

	require.Equal(t, OutcomeDeliveryAvailable, s.AddOrderAccepted(3, "delivery-a"))
	outcome := s.AddOrderAccepted(4, "delivery-a")
	assert.Equal(t, OutcomeDeliveryNoNeeded, outcome)
}

func TestRestaurantOrderSetsAreExclusive(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "r1"})
	order := types.OrderDTO{OrderID: 10, RestaurantID: "r1"}
	s.AddPendingOrderToRestaurant("r1", order)

	r, ok := s.GetRestaurant("r1")
	require.True(t, ok)
	assert.Contains(t, r.PendingOrders, uint64(10))
	assert.NotContains(t, r.AuthorizedOrders, uint64(10))

	s.AddAuthorizedOrderToRestaurant("r1", order)
	r, ok = s.GetRestaurant("r1")
	require.True(t, ok)
	assert.NotContains(t, r.PendingOrders, uint64(10))
	assert.Contains(t, r.AuthorizedOrders, uint64(10))
}

func TestRemoveUserDispatchesByOwningTable(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddClient(types.ClientDTO{ClientID: "c1"})
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "c1-shadow"})

	s.RemoveUser("c1")

	_, stillClient := s.GetClient("c1")
	assert.False(t, stillClient)
	_, unaffected := s.GetRestaurant("c1-shadow")
	assert.True(t, unaffected, "removing a client must not touch an unrelated restaurant")
}

func TestApplyStorageUpdatesLeaderPrunesConfirmedEntries(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddClient(types.ClientDTO{ClientID: "c1"})
	s.AddClient(types.ClientDTO{ClientID: "c2"})

	entries := s.GetLogsFromIndex(0)
	require.Len(t, entries, 2)

	s.ApplyStorageUpdates(true, entries)

	assert.Empty(t, s.GetLogsFromIndex(0))
	assert.Equal(t, uint64(2), s.GetMinLogIndex())
}

func TestApplyStorageUpdatesFollowerDeletesMissingEntriesInBatchRange(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	// Seed the follower with a stale entry outside the incoming batch's
	// own id range (id 0), then one that falls inside it (id 2) — only
	// the latter must be dropped per the batch's [min,max] span rule.
	s.AddClient(types.ClientDTO{ClientID: "stale"})
	s.ApplyStorageUpdates(false, []storagelog.Entry{
		{ID: 2, Op: storagelog.AddClient{Client: types.ClientDTO{ClientID: "stale-inside"}}},
	})
	stale := s.GetLogsFromIndex(0)
	require.Len(t, stale, 2)

	batch := []storagelog.Entry{
		{ID: 1, Op: storagelog.AddClient{Client: types.ClientDTO{ClientID: "c1"}}},
		{ID: 3, Op: storagelog.AddClient{Client: types.ClientDTO{ClientID: "c2"}}},
	}
	s.ApplyStorageUpdates(false, batch)

	_, staleStillThere := s.GetClient("stale")
	assert.True(t, staleStillThere, "entries outside the batch's id span are untouched")

	var ids []uint64
	for _, e := range s.GetLogsFromIndex(0) {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []uint64{0, 1, 3}, ids, "the in-span entry absent from the batch is dropped from the log")

	c1, ok := s.GetClient("c1")
	require.True(t, ok)
	assert.Equal(t, "c1", c1.ClientID)
	_, ok = s.GetClient("c2")
	require.True(t, ok)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddClient(types.ClientDTO{ClientID: "c1", Position: types.Position{X: 1, Y: 2}})
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "r1"})
	s.AddOrder(types.OrderDTO{OrderID: 1, RestaurantID: "r1", Status: types.OrderRequested})

	snap := s.GetAllStorage()
	raw, err := SnapshotToWire(snap)
	require.NoError(t, err)

	restored, err := SnapshotFromWire(raw)
	require.NoError(t, err)

	s2, cancel2 := newTestStorage(t)
	defer cancel2()
	s2.ApplyStorageSnapshot(restored)

	c, ok := s2.GetClient("c1")
	require.True(t, ok)
	assert.Equal(t, 1.0, c.Position.X)

	o, ok := s2.GetOrder(1)
	require.True(t, ok)
	assert.Equal(t, types.OrderRequested, o.Status)
}

func TestSetCurrentOrderToDeliveryIgnoresNilOrderID(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddDelivery(types.DeliveryDTO{DeliveryID: "d1", Status: types.DeliveryAvailableSt})
	s.SetCurrentOrderToDelivery("d1", nil)

	d, ok := s.GetDelivery("d1")
	require.True(t, ok)
	assert.Nil(t, d.CurrentOrder)
}

func TestGetAllAvailableDeliveriesFiltersByStatus(t *testing.T) {
	s, cancel := newTestStorage(t)
	defer cancel()

	s.AddDelivery(types.DeliveryDTO{DeliveryID: "d1", Status: types.DeliveryAvailableSt})
	s.AddDelivery(types.DeliveryDTO{DeliveryID: "d2", Status: types.DeliveryDeliveringSt})

	avail := s.GetAllAvailableDeliveries()
	require.Len(t, avail, 1)
	assert.Equal(t, "d1", avail[0].DeliveryID)
}
