// Package invalidation defines the events that announce changed or removed
// tile content.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event names content URIs of one tileset whose payload changed (update) or
// went away (delete). Version orders events about the same URI.
type Event struct {
	Version uint64    `json:"version"`
	Op      string    `json:"op"`
	Tileset string    `json:"tileset"`
	URIs    []string  `json:"uris"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be positive")
	}
	switch e.Op {
	case OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be update|delete, got %q", e.Op)
	}
	if strings.TrimSpace(e.Tileset) == "" {
		return fmt.Errorf("tileset is required")
	}
	if len(e.URIs) == 0 {
		return fmt.Errorf("at least one uri is required")
	}
	for i, u := range e.URIs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("uris[%d] is empty", i)
		}
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
