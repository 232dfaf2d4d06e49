package storage

import (
	"encoding/json"
	"fmt"

	"foodmesh/internal/storagelog"
	"foodmesh/internal/wire"
)

// EntriesToWire converts retained log entries into the ordered-pair
// shape StorageUpdates carries on the wire.
func EntriesToWire(entries []storagelog.Entry) ([]wire.LogEntryPair, error) {
	out := make([]wire.LogEntryPair, 0, len(entries))
	for _, e := range entries {
		raw, err := storagelog.EncodeOp(e.Op)
		if err != nil {
			return nil, fmt.Errorf("storage: encode entry %d: %w", e.ID, err)
		}
		out = append(out, wire.LogEntryPair{ID: e.ID, Op: raw})
	}
	return out, nil
}

// EntriesFromWire is the inverse of EntriesToWire.
func EntriesFromWire(pairs []wire.LogEntryPair) ([]storagelog.Entry, error) {
	out := make([]storagelog.Entry, 0, len(pairs))
	for _, p := range pairs {
		op, err := storagelog.DecodeOp(p.Op)
		if err != nil {
			return nil, fmt.Errorf("storage: decode entry %d: %w", p.ID, err)
		}
		out = append(out, storagelog.Entry{ID: p.ID, Op: op})
	}
	return out, nil
}

// SnapshotToWire marshals a Snapshot into the raw payload a
// StorageSnapshot message carries.
func SnapshotToWire(snap Snapshot) (json.RawMessage, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("storage: marshal snapshot: %w", err)
	}
	return raw, nil
}

// SnapshotFromWire is the inverse of SnapshotToWire.
func SnapshotFromWire(raw json.RawMessage) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("storage: unmarshal snapshot: %w", err)
	}
	return snap, nil
}
