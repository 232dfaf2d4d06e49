package nearby

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodmesh/internal/storage"
	"foodmesh/internal/types"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s := storage.New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s
}

func TestRestaurantsFiltersByRadius(t *testing.T) {
	s := newTestStorage(t)
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "near", Position: types.Position{X: 1, Y: 1}})
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "far", Position: types.Position{X: 100, Y: 100}})

	got := Restaurants(s, types.Position{X: 0, Y: 0}, 8)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
}

func TestRestaurantsFallsBackToUnfilteredWhenEmpty(t *testing.T) {
	s := newTestStorage(t)
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "far", Position: types.Position{X: 100, Y: 100}})

	got := Restaurants(s, types.Position{X: 0, Y: 0}, 8)
	require.Len(t, got, 1)
	assert.Equal(t, "far", got[0].ID)
}

func TestRestaurantsZeroRadiusMatchesExactPosition(t *testing.T) {
	s := newTestStorage(t)
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "exact", Position: types.Position{X: 3, Y: 3}})
	s.AddRestaurant(types.RestaurantDTO{RestaurantID: "off-by-one", Position: types.Position{X: 3, Y: 4}})

	got := Restaurants(s, types.Position{X: 3, Y: 3}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "exact", got[0].ID)
}

func TestDeliveriesOnlyConsidersAvailable(t *testing.T) {
	s := newTestStorage(t)
	s.AddDelivery(types.DeliveryDTO{DeliveryID: "d1", Position: types.Position{X: 1, Y: 1}, Status: types.DeliveryAvailableSt})
	s.AddDelivery(types.DeliveryDTO{DeliveryID: "d2", Position: types.Position{X: 1, Y: 1}, Status: types.DeliveryDeliveringSt})

	got := Deliveries(s, types.Position{X: 0, Y: 0}, 8)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].DeliveryID)
}
