// Package store provides Checkpointer implementations for the graph
// package's Pregel Runner: a single-writer SQLite backend for
// single-process execution, and a MySQL backend for concurrent,
// multi-process workers sharing a thread.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/madmag77/wirl/graph"
)

func encodeCheckpoint(cp graph.Checkpoint) (channelValuesJSON, pendingWritesJSON, metadataJSON []byte, err error) {
	channelValuesJSON, err = json.Marshal(cp.ChannelValues)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode channel_values: %w", err)
	}
	pendingWritesJSON, err = json.Marshal(cp.PendingWrites)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode pending_writes: %w", err)
	}
	metadataJSON, err = json.Marshal(cp.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return channelValuesJSON, pendingWritesJSON, metadataJSON, nil
}

// InterruptRecord writes are stored as json.RawMessage inside
// pending_writes and must be decoded back into graph.InterruptRecord
// values (json.Unmarshal cannot know the concrete type of a Write.Value
// any field on its own).
func decodeWrites(raw []byte) ([]graph.Write, error) {
	var rawWrites []struct {
		TaskID  string          `json:"task_id"`
		Channel string          `json:"channel"`
		Value   json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &rawWrites); err != nil {
		return nil, fmt.Errorf("decode pending_writes: %w", err)
	}

	writes := make([]graph.Write, 0, len(rawWrites))
	for _, rw := range rawWrites {
		var value any
		if rw.Channel == graph.InterruptChannel {
			var rec graph.InterruptRecord
			if err := json.Unmarshal(rw.Value, &rec); err != nil {
				return nil, fmt.Errorf("decode interrupt record: %w", err)
			}
			value = rec
		} else {
			if err := json.Unmarshal(rw.Value, &value); err != nil {
				return nil, fmt.Errorf("decode write value: %w", err)
			}
		}
		writes = append(writes, graph.Write{TaskID: rw.TaskID, Channel: rw.Channel, Value: value})
	}
	return writes, nil
}

func decodeChannelValues(raw []byte) (map[string]any, error) {
	values := make(map[string]any)
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode channel_values: %w", err)
	}
	return values, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	meta := make(map[string]any)
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
