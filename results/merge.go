package results

import (
	"encoding/json"
	"reflect"

	"github.com/matchpoint-app/results-engine/models"
)

type Decision int

const (
	// DecisionApplied means the operation merged cleanly; State holds the
	// merged document.
	DecisionApplied Decision = iota
	// DecisionNoop means the server already matches what the client intended;
	// the op is treated as already applied.
	DecisionNoop
	// DecisionConflict means the server diverged at the op's path; Conflict
	// carries the corrective patches and the edit is not applied.
	DecisionConflict
)

type MergeResult struct {
	Decision Decision
	State    Document
	Conflict *models.Conflict
}

// Resolve performs the three-way merge for one operation: base is the state at
// the client's last sync, server the current authoritative state, and op was
// computed against base. A structural apply failure is a hard error, not a
// conflict.
//
// The comparison is field-granular: only the value at the op's own path
// decides divergence, so concurrent edits to different paths never conflict.
func Resolve(base, server Document, loc Locator, op models.Operation) (MergeResult, error) {
	clientResult, err := Apply(base, loc, op)
	if err != nil {
		return MergeResult{}, err
	}

	baseVal, _ := base.ValueAt(loc)
	serverVal, _ := server.ValueAt(loc)
	if reflect.DeepEqual(baseVal, serverVal) {
		// Server has not diverged at this path: replay the op on top of it.
		merged, err := Apply(server, loc, op)
		if err != nil {
			return MergeResult{}, err
		}
		return MergeResult{Decision: DecisionApplied, State: merged}, nil
	}

	clientVal, _ := clientResult.ValueAt(loc)
	if reflect.DeepEqual(serverVal, clientVal) {
		return MergeResult{Decision: DecisionNoop, State: server}, nil
	}

	return MergeResult{
		Decision: DecisionConflict,
		State:    server,
		Conflict: ConflictFor(op, serverVal, models.ConflictReasonValueDiverged),
	}, nil
}

// ResolveDiverged classifies an operation whose path is already known to have
// changed on the server after the client's base version (the per-path version
// ledger stands in for the base snapshot, which is not persisted). A replace
// whose value the server already holds, or a remove whose target is already
// gone, collapses to a no-op; everything else conflicts.
func ResolveDiverged(server Document, loc Locator, op models.Operation) MergeResult {
	serverVal, found := server.ValueAt(loc)

	switch op.Kind {
	case models.OpReplace:
		if found && jsonEqual(serverVal, op.Value) {
			return MergeResult{Decision: DecisionNoop, State: server}
		}
	case models.OpRemove:
		if !found {
			return MergeResult{Decision: DecisionNoop, State: server}
		}
		if loc.Kind == PathMatchTeamPlayers && loc.PlayerID != 0 {
			if member, ok := serverVal.(bool); ok && !member {
				return MergeResult{Decision: DecisionNoop, State: server}
			}
		}
	}

	return MergeResult{
		Decision: DecisionConflict,
		State:    server,
		Conflict: ConflictFor(op, serverVal, models.ConflictReasonStaleVersion),
	}
}

// ConflictFor synthesizes the corrective patch pair for a rejected operation:
// serverPatch rebases the client onto the server's current value, clientPatch
// preserves the client's original intent for manual reconciliation.
func ConflictFor(op models.Operation, serverVal interface{}, reason string) *models.Conflict {
	serverValue, err := json.Marshal(serverVal)
	if err != nil {
		serverValue = nil
	}
	return &models.Conflict{
		OpID:   op.ID,
		Reason: reason,
		ServerPatch: []models.Operation{{
			Kind:  models.OpReplace,
			Path:  op.Path,
			Value: serverValue,
		}},
		ClientPatch: []models.Operation{op},
	}
}

// jsonEqual compares a document value with a raw client value structurally,
// ignoring formatting and field order.
func jsonEqual(val interface{}, raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	marshaled, err := json.Marshal(val)
	if err != nil {
		return false
	}
	var a, b interface{}
	if err := json.Unmarshal(marshaled, &a); err != nil {
		return false
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
