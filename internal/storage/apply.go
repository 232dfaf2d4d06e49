package storage

import (
	"foodmesh/internal/storagelog"
)

// applyOp performs op's table-side effect only — no log bookkeeping.
// It is the single source of truth for what each operation means,
// shared by state.mutate (the live, logging path) and by log replay
// (ApplyStorageUpdates, snapshot loading, deterministic replay from an
// empty store), which must reproduce exactly the same table effect
// without re-appending a log entry at a freshly assigned id.
func applyOp(s *state, op storagelog.Op) {
	switch v := op.(type) {
	case storagelog.AddClient:
		s.clients[v.Client.ClientID] = v.Client
	case storagelog.RemoveClient:
		delete(s.clients, v.ClientID)
	case storagelog.AddRestaurant:
		s.restaurants[v.Restaurant.RestaurantID] = v.Restaurant
	case storagelog.RemoveRestaurant:
		delete(s.restaurants, v.RestaurantID)
	case storagelog.AddDelivery:
		s.deliveries[v.Delivery.DeliveryID] = v.Delivery
	case storagelog.RemoveDelivery:
		delete(s.deliveries, v.DeliveryID)
	case storagelog.AddOrder:
		s.orders[v.Order.OrderID] = v.Order
	case storagelog.RemoveOrder:
		delete(s.orders, v.OrderID)
	case storagelog.SetClientPosition:
		if c, ok := s.clients[v.ClientID]; ok {
			c.Position = v.Position
			c.UpdatedAt = now()
			s.clients[v.ClientID] = c
		}
	case storagelog.SetRestaurantPosition:
		if r, ok := s.restaurants[v.RestaurantID]; ok {
			r.Position = v.Position
			r.UpdatedAt = now()
			s.restaurants[v.RestaurantID] = r
		}
	case storagelog.SetDeliveryPosition:
		if d, ok := s.deliveries[v.DeliveryID]; ok {
			d.Position = v.Position
			d.UpdatedAt = now()
			s.deliveries[v.DeliveryID] = d
		}
	case storagelog.SetOrderStatus:
		if o, ok := s.orders[v.OrderID]; ok {
			o.Status = v.Status
			o.UpdatedAt = now()
			s.orders[v.OrderID] = o
		}
	case storagelog.SetDeliveryStatus:
		if d, ok := s.deliveries[v.DeliveryID]; ok {
			d.Status = v.Status
			d.UpdatedAt = now()
			s.deliveries[v.DeliveryID] = d
		}
	case storagelog.SetClientOrder:
		if c, ok := s.clients[v.ClientID]; ok {
			c.ClientOrder = v.OrderID
			c.UpdatedAt = now()
			s.clients[v.ClientID] = c
		}
	case storagelog.SetCurrentOrderToDelivery:
		if d, ok := s.deliveries[v.DeliveryID]; ok {
			d.CurrentOrder = v.OrderID
			d.UpdatedAt = now()
			s.deliveries[v.DeliveryID] = d
		}
	case storagelog.SetCurrentClientToDelivery:
		if d, ok := s.deliveries[v.DeliveryID]; ok {
			d.CurrentClient = v.ClientID
			d.UpdatedAt = now()
			s.deliveries[v.DeliveryID] = d
		}
	case storagelog.SetDeliveryToOrder:
		if o, ok := s.orders[v.OrderID]; ok {
			o.DeliveryID = v.DeliveryID
			o.UpdatedAt = now()
			s.orders[v.OrderID] = o
		}
	case storagelog.AddAuthorizedOrderToRestaurant:
		if r, ok := s.restaurants[v.RestaurantID]; ok {
			delete(r.PendingOrders, v.Order.OrderID)
			r.AuthorizedOrders[v.Order.OrderID] = v.Order
			r.UpdatedAt = now()
			s.restaurants[v.RestaurantID] = r
		}
	case storagelog.RemoveAuthorizedOrderFromRestaurant:
		if r, ok := s.restaurants[v.RestaurantID]; ok {
			delete(r.AuthorizedOrders, v.OrderID)
			r.UpdatedAt = now()
			s.restaurants[v.RestaurantID] = r
		}
	case storagelog.AddPendingOrderToRestaurant:
		if r, ok := s.restaurants[v.RestaurantID]; ok {
			delete(r.AuthorizedOrders, v.Order.OrderID)
			r.PendingOrders[v.Order.OrderID] = v.Order
			r.UpdatedAt = now()
			s.restaurants[v.RestaurantID] = r
		}
	case storagelog.RemovePendingOrderFromRestaurant:
		if r, ok := s.restaurants[v.RestaurantID]; ok {
			delete(r.PendingOrders, v.OrderID)
			r.UpdatedAt = now()
			s.restaurants[v.RestaurantID] = r
		}
	case storagelog.SetExpectedDeliveryTime:
		if o, ok := s.orders[v.OrderID]; ok {
			o.ExpectedDeliveryTime = v.ExpectedTime
			o.UpdatedAt = now()
			s.orders[v.OrderID] = o
		}
	case storagelog.InsertAcceptedDelivery:
		s.acceptedDeliveries.Insert(v.OrderID, v.DeliveryID)
	case storagelog.RemoveAcceptedDelivery:
		s.acceptedDeliveries.RemoveByKey(v.OrderID)
	case storagelog.RemoveUser:
		s.removeUser(v.UserID)
	}
}
