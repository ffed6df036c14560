package models

import (
	"encoding/json"
	"time"
)

type OpKind string

const (
	OpReplace OpKind = "replace"
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
)

// Operation is one path-addressed edit against a game's results document.
// It is created and owned by the submitting client; the engine only reads it.
type Operation struct {
	ID          string          `json:"id"`
	BaseVersion int             `json:"base_version"`
	Kind        OpKind          `json:"op"`
	Path        string          `json:"path"`
	Value       json.RawMessage `json:"value,omitempty"`
	ActorID     int             `json:"actor_id,omitempty"`
}

const (
	ConflictReasonStaleVersion  = "stale_version"
	ConflictReasonValueDiverged = "value_diverged"
)

// Conflict is returned to the caller for client-side reconciliation.
// It is never persisted.
type Conflict struct {
	OpID        string      `json:"op_id"`
	Reason      string      `json:"reason"`
	ServerPatch []Operation `json:"server_patch"`
	ClientPatch []Operation `json:"client_patch"`
}

type BatchResult struct {
	Applied     []string   `json:"applied"`
	HeadVersion int        `json:"head_version"`
	ServerTime  time.Time  `json:"server_time"`
	Conflicts   []Conflict `json:"conflicts"`
}
