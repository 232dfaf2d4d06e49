// Package nearby implements the geographic filters handed to clients
// browsing restaurants and to restaurants auctioning a delivery, per
// §4.5: Manhattan distance ≤ NEARBY_RADIUS, with an unfiltered
// fallback when the filter would otherwise starve a small world.
package nearby

import (
	"foodmesh/internal/storage"
	"foodmesh/internal/types"
)

// Restaurants returns every restaurant within radius of from. If that
// filter is empty but the unfiltered set is not, the unfiltered set is
// returned instead — small worlds should not starve a client just
// because nothing happens to be nearby.
func Restaurants(store *storage.Storage, from types.Position, radius float64) []types.RestaurantInfo {
	all := store.GetAllRestaurantsInfo()
	if len(all) == 0 {
		return all
	}

	filtered := make([]types.RestaurantInfo, 0, len(all))
	for _, r := range all {
		if from.ManhattanDistance(r.Position) <= radius {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return all
	}
	return filtered
}

// Deliveries returns every Available delivery agent within radius of
// from, falling back to the unfiltered Available set when the filter
// is empty but that set is not — the delivery case preserves this
// fallback explicitly, per §4.5, even though the caller (order
// service) treats an overall-empty result as grounds to cancel.
func Deliveries(store *storage.Storage, from types.Position, radius float64) []types.DeliveryDTO {
	all := store.GetAllAvailableDeliveries()
	if len(all) == 0 {
		return all
	}

	filtered := make([]types.DeliveryDTO, 0, len(all))
	for _, d := range all {
		if from.ManhattanDistance(d.Position) <= radius {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		return all
	}
	return filtered
}
