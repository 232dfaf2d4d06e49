// Package storagelog defines the append-only operation log entries
// Storage produces for every mutation, the BiMap used for the
// accepted-delivery relation, and the codec that lets those entries
// travel inside a StorageUpdates/StorageSnapshot wire message.
package storagelog

import (
	"encoding/json"
	"fmt"

	"foodmesh/internal/types"
)

// Op is one mutation recorded in the log. Kind mirrors the tagging
// scheme used by wire.NetworkMessage: a flat "op" discriminator next
// to the variant's own fields.
type Op interface {
	Kind() string
}

const (
	OpAddClient                        = "AddClient"
	OpRemoveClient                      = "RemoveClient"
	OpAddRestaurant                      = "AddRestaurant"
	OpRemoveRestaurant                  = "RemoveRestaurant"
	OpAddDelivery                       = "AddDelivery"
	OpRemoveDelivery                    = "RemoveDelivery"
	OpAddOrder                          = "AddOrder"
	OpRemoveOrder                       = "RemoveOrder"
	OpSetClientPosition                 = "SetClientPosition"
	OpSetRestaurantPosition             = "SetRestaurantPosition"
	OpSetDeliveryPosition               = "SetDeliveryPosition"
	OpSetOrderStatus                    = "SetOrderStatus"
	OpSetDeliveryStatus                 = "SetDeliveryStatus"
	OpSetClientOrder                    = "SetClientOrder"
	OpSetCurrentOrderToDelivery         = "SetCurrentOrderToDelivery"
	OpSetCurrentClientToDelivery        = "SetCurrentClientToDelivery"
	OpSetDeliveryToOrder                = "SetDeliveryToOrder"
	OpAddAuthorizedOrderToRestaurant    = "AddAuthorizedOrderToRestaurant"
	OpRemoveAuthorizedOrderFromRestaurant = "RemoveAuthorizedOrderFromRestaurant"
	OpAddPendingOrderToRestaurant       = "AddPendingOrderToRestaurant"
	OpRemovePendingOrderFromRestaurant  = "RemovePendingOrderFromRestaurant"
	OpSetExpectedDeliveryTime           = "SetExpectedDeliveryTime"
	OpInsertAcceptedDelivery            = "InsertAcceptedDelivery"
	OpRemoveAcceptedDelivery            = "RemoveAcceptedDelivery"
	OpRemoveUser                        = "RemoveUser"
)

type AddClient struct{ Client types.ClientDTO }

func (AddClient) Kind() string { return OpAddClient }

type RemoveClient struct{ ClientID string }

func (RemoveClient) Kind() string { return OpRemoveClient }

type AddRestaurant struct{ Restaurant types.RestaurantDTO }

func (AddRestaurant) Kind() string { return OpAddRestaurant }

type RemoveRestaurant struct{ RestaurantID string }

func (RemoveRestaurant) Kind() string { return OpRemoveRestaurant }

type AddDelivery struct{ Delivery types.DeliveryDTO }

func (AddDelivery) Kind() string { return OpAddDelivery }

type RemoveDelivery struct{ DeliveryID string }

func (RemoveDelivery) Kind() string { return OpRemoveDelivery }

type AddOrder struct{ Order types.OrderDTO }

func (AddOrder) Kind() string { return OpAddOrder }

type RemoveOrder struct{ OrderID uint64 }

func (RemoveOrder) Kind() string { return OpRemoveOrder }

type SetClientPosition struct {
	ClientID string
	Position types.Position
}

func (SetClientPosition) Kind() string { return OpSetClientPosition }

type SetRestaurantPosition struct {
	RestaurantID string
	Position     types.Position
}

func (SetRestaurantPosition) Kind() string { return OpSetRestaurantPosition }

type SetDeliveryPosition struct {
	DeliveryID string
	Position   types.Position
}

func (SetDeliveryPosition) Kind() string { return OpSetDeliveryPosition }

type SetOrderStatus struct {
	OrderID uint64
	Status  types.OrderStatus
}

func (SetOrderStatus) Kind() string { return OpSetOrderStatus }

type SetDeliveryStatus struct {
	DeliveryID string
	Status     types.DeliveryStatus
}

func (SetDeliveryStatus) Kind() string { return OpSetDeliveryStatus }

// SetClientOrder rebinds (or clears, when OrderID is nil) the client's
// single active order.
type SetClientOrder struct {
	ClientID string
	OrderID  *uint64
}

func (SetClientOrder) Kind() string { return OpSetClientOrder }

type SetCurrentOrderToDelivery struct {
	DeliveryID string
	OrderID    *uint64
}

func (SetCurrentOrderToDelivery) Kind() string { return OpSetCurrentOrderToDelivery }

type SetCurrentClientToDelivery struct {
	DeliveryID string
	ClientID   *string
}

func (SetCurrentClientToDelivery) Kind() string { return OpSetCurrentClientToDelivery }

type SetDeliveryToOrder struct {
	OrderID    uint64
	DeliveryID *string
}

func (SetDeliveryToOrder) Kind() string { return OpSetDeliveryToOrder }

type AddAuthorizedOrderToRestaurant struct {
	RestaurantID string
	Order        types.OrderDTO
}

func (AddAuthorizedOrderToRestaurant) Kind() string { return OpAddAuthorizedOrderToRestaurant }

type RemoveAuthorizedOrderFromRestaurant struct {
	RestaurantID string
	OrderID      uint64
}

func (RemoveAuthorizedOrderFromRestaurant) Kind() string {
	return OpRemoveAuthorizedOrderFromRestaurant
}

type AddPendingOrderToRestaurant struct {
	RestaurantID string
	Order        types.OrderDTO
}

func (AddPendingOrderToRestaurant) Kind() string { return OpAddPendingOrderToRestaurant }

type RemovePendingOrderFromRestaurant struct {
	RestaurantID string
	OrderID      uint64
}

func (RemovePendingOrderFromRestaurant) Kind() string { return OpRemovePendingOrderFromRestaurant }

type SetExpectedDeliveryTime struct {
	OrderID      uint64
	ExpectedTime uint64
}

func (SetExpectedDeliveryTime) Kind() string { return OpSetExpectedDeliveryTime }

type InsertAcceptedDelivery struct {
	OrderID    uint64
	DeliveryID string
}

func (InsertAcceptedDelivery) Kind() string { return OpInsertAcceptedDelivery }

type RemoveAcceptedDelivery struct{ OrderID uint64 }

func (RemoveAcceptedDelivery) Kind() string { return OpRemoveAcceptedDelivery }

// RemoveUser removes whichever entity (client, restaurant, or
// delivery) owns this id; storage dispatches by which table contains
// it.
type RemoveUser struct{ UserID string }

func (RemoveUser) Kind() string { return OpRemoveUser }

// Entry is one slot in the log: a monotonically assigned id plus the
// operation it records.
type Entry struct {
	ID uint64
	Op Op
}

// EncodeOp serializes an Op the same flat-tagged way wire.Encode does
// for NetworkMessage, so log entries can travel inside a
// json.RawMessage field of a StorageUpdates/StorageSnapshot message.
func EncodeOp(op Op) (json.RawMessage, error) {
	fields, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("storagelog: marshal %s: %w", op.Kind(), err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("storagelog: flatten %s: %w", op.Kind(), err)
	}
	kindField, err := json.Marshal(op.Kind())
	if err != nil {
		return nil, err
	}
	m["op"] = kindField
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("storagelog: marshal %s envelope: %w", op.Kind(), err)
	}
	return out, nil
}

type opPeek struct {
	Op string `json:"op"`
}

// DecodeOp is the inverse of EncodeOp.
func DecodeOp(raw json.RawMessage) (Op, error) {
	var peek opPeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("storagelog: decode envelope: %w", err)
	}

	var (
		out Op
		err error
	)
	switch peek.Op {
	case OpAddClient:
		var v AddClient
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveClient:
		var v RemoveClient
		err = json.Unmarshal(raw, &v)
		out = v
	case OpAddRestaurant:
		var v AddRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveRestaurant:
		var v RemoveRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpAddDelivery:
		var v AddDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveDelivery:
		var v RemoveDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpAddOrder:
		var v AddOrder
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveOrder:
		var v RemoveOrder
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetClientPosition:
		var v SetClientPosition
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetRestaurantPosition:
		var v SetRestaurantPosition
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetDeliveryPosition:
		var v SetDeliveryPosition
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetOrderStatus:
		var v SetOrderStatus
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetDeliveryStatus:
		var v SetDeliveryStatus
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetClientOrder:
		var v SetClientOrder
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetCurrentOrderToDelivery:
		var v SetCurrentOrderToDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetCurrentClientToDelivery:
		var v SetCurrentClientToDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetDeliveryToOrder:
		var v SetDeliveryToOrder
		err = json.Unmarshal(raw, &v)
		out = v
	case OpAddAuthorizedOrderToRestaurant:
		var v AddAuthorizedOrderToRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveAuthorizedOrderFromRestaurant:
		var v RemoveAuthorizedOrderFromRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpAddPendingOrderToRestaurant:
		var v AddPendingOrderToRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemovePendingOrderFromRestaurant:
		var v RemovePendingOrderFromRestaurant
		err = json.Unmarshal(raw, &v)
		out = v
	case OpSetExpectedDeliveryTime:
		var v SetExpectedDeliveryTime
		err = json.Unmarshal(raw, &v)
		out = v
	case OpInsertAcceptedDelivery:
		var v InsertAcceptedDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveAcceptedDelivery:
		var v RemoveAcceptedDelivery
		err = json.Unmarshal(raw, &v)
		out = v
	case OpRemoveUser:
		var v RemoveUser
		err = json.Unmarshal(raw, &v)
		out = v
	default:
		return nil, fmt.Errorf("storagelog: unknown op %q", peek.Op)
	}
	if err != nil {
		return nil, fmt.Errorf("storagelog: decode %s: %w", peek.Op, err)
	}
	return out, nil
}
