package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/matchpoint-app/results-engine/models"
)

var (
	// ErrTargetNotFound means the path is well-formed but its container or
	// element is absent from the document.
	ErrTargetNotFound = errors.New("operation target not found")
	// ErrUnsupportedOp means the op kind cannot be applied to this path shape.
	ErrUnsupportedOp = errors.New("operation not supported at this path")
	// ErrBadValue means the operation value does not decode for this path.
	ErrBadValue = errors.New("operation value malformed")
)

type ApplyError struct {
	Path string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %q: %v", e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func applyErr(op models.Operation, err error) error {
	return &ApplyError{Path: op.Path, Err: err}
}

// Apply applies one operation to the document and returns the resulting
// document. The input document is never mutated. loc must be the parsed form
// of op.Path.
func Apply(doc Document, loc Locator, op models.Operation) (Document, error) {
	switch loc.Kind {
	case PathReset:
		// Sentinel: recognized before generic dispatch, clears everything.
		if op.Kind != models.OpReplace {
			return Document{}, applyErr(op, ErrUnsupportedOp)
		}
		return Document{}, nil

	case PathRounds:
		return applyRounds(doc, loc, op)

	case PathRoundMatches:
		return applyMatches(doc, loc, op)

	case PathMatchSets:
		return applySets(doc, loc, op)

	case PathMatchTeamPlayers:
		return applyTeamPlayers(doc, loc, op)
	}
	return Document{}, applyErr(op, ErrUnsupportedOp)
}

func applyRounds(doc Document, loc Locator, op models.Operation) (Document, error) {
	next := doc.clone()

	if loc.Round == nil {
		switch op.Kind {
		case models.OpAdd:
			var round Round
			if err := decodeValue(op.Value, &round); err != nil {
				return Document{}, applyErr(op, err)
			}
			next.Rounds = append(next.Rounds, round)
			return next, nil
		case models.OpReplace:
			var rounds []Round
			if err := decodeValue(op.Value, &rounds); err != nil {
				return Document{}, applyErr(op, err)
			}
			next.Rounds = rounds
			return next, nil
		default:
			return Document{}, applyErr(op, ErrUnsupportedOp)
		}
	}

	i, ok := next.roundAt(loc.Round)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	switch op.Kind {
	case models.OpReplace:
		var round Round
		if err := decodeValue(op.Value, &round); err != nil {
			return Document{}, applyErr(op, err)
		}
		next.Rounds[i] = round
		return next, nil
	case models.OpRemove:
		next.Rounds = append(next.Rounds[:i], next.Rounds[i+1:]...)
		return next, nil
	default:
		return Document{}, applyErr(op, ErrUnsupportedOp)
	}
}

func applyMatches(doc Document, loc Locator, op models.Operation) (Document, error) {
	next := doc.clone()

	i, ok := next.roundAt(loc.Round)
	if !ok {
		// Positional match adds may target a round the client has not synced
		// yet; the projector creates it lazily, and the in-memory tree does
		// the same for a positional ref one past the end.
		if op.Kind == models.OpAdd && loc.Match == nil && loc.Round != nil &&
			!loc.Round.ByID && loc.Round.Index == len(next.Rounds) {
			next.Rounds = append(next.Rounds, Round{})
			i = len(next.Rounds) - 1
		} else {
			return Document{}, applyErr(op, ErrTargetNotFound)
		}
	}

	round := &next.Rounds[i]
	if loc.Match == nil {
		switch op.Kind {
		case models.OpAdd:
			var m matchValue
			if err := decodeValue(op.Value, &m); err != nil {
				return Document{}, applyErr(op, err)
			}
			round.Matches = append(round.Matches, NewMatch(m.ID))
			return next, nil
		case models.OpReplace:
			var matches []Match
			if err := decodeValue(op.Value, &matches); err != nil {
				return Document{}, applyErr(op, err)
			}
			round.Matches = matches
			return next, nil
		default:
			return Document{}, applyErr(op, ErrUnsupportedOp)
		}
	}

	j, ok := round.matchAt(loc.Match)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	switch op.Kind {
	case models.OpReplace:
		var match Match
		if err := decodeValue(op.Value, &match); err != nil {
			return Document{}, applyErr(op, err)
		}
		if match.Teams[0].Number == 0 {
			match.Teams[0].Number = 1
		}
		if match.Teams[1].Number == 0 {
			match.Teams[1].Number = 2
		}
		round.Matches[j] = match
		return next, nil
	case models.OpRemove:
		round.Matches = append(round.Matches[:j], round.Matches[j+1:]...)
		return next, nil
	default:
		return Document{}, applyErr(op, ErrUnsupportedOp)
	}
}

func applySets(doc Document, loc Locator, op models.Operation) (Document, error) {
	next := doc.clone()

	i, ok := next.roundAt(loc.Round)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	j, ok := next.Rounds[i].matchAt(loc.Match)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	match := &next.Rounds[i].Matches[j]

	if loc.Set == nil {
		switch op.Kind {
		case models.OpAdd:
			var set Set
			if err := decodeValue(op.Value, &set); err != nil {
				return Document{}, applyErr(op, err)
			}
			match.Sets = append(match.Sets, set)
			return next, nil
		case models.OpReplace:
			var sets []Set
			if err := decodeValue(op.Value, &sets); err != nil {
				return Document{}, applyErr(op, err)
			}
			match.Sets = sets
			return next, nil
		default:
			return Document{}, applyErr(op, ErrUnsupportedOp)
		}
	}

	if loc.Set.ByID {
		return Document{}, applyErr(op, ErrUnsupportedOp)
	}
	k := loc.Set.Index
	if k < 0 || k >= len(match.Sets) {
		// Adding at the index right past the end is an append; clients send
		// "sets/<count>" when they race another device on the same match.
		if op.Kind == models.OpAdd && k == len(match.Sets) {
			var set Set
			if err := decodeValue(op.Value, &set); err != nil {
				return Document{}, applyErr(op, err)
			}
			match.Sets = append(match.Sets, set)
			return next, nil
		}
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	switch op.Kind {
	case models.OpReplace, models.OpAdd:
		var set Set
		if err := decodeValue(op.Value, &set); err != nil {
			return Document{}, applyErr(op, err)
		}
		match.Sets[k] = set
		return next, nil
	case models.OpRemove:
		match.Sets = append(match.Sets[:k], match.Sets[k+1:]...)
		return next, nil
	default:
		return Document{}, applyErr(op, ErrUnsupportedOp)
	}
}

func applyTeamPlayers(doc Document, loc Locator, op models.Operation) (Document, error) {
	next := doc.clone()

	i, ok := next.roundAt(loc.Round)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	j, ok := next.Rounds[i].matchAt(loc.Match)
	if !ok {
		return Document{}, applyErr(op, ErrTargetNotFound)
	}
	team := &next.Rounds[i].Matches[j].Teams[teamIndex(loc.Team)]

	switch op.Kind {
	case models.OpAdd:
		userID := loc.PlayerID
		if userID == 0 {
			if err := decodeValue(op.Value, &userID); err != nil {
				return Document{}, applyErr(op, err)
			}
		}
		if userID <= 0 {
			return Document{}, applyErr(op, ErrBadValue)
		}
		// Upsert: adding a player twice keeps a single membership. The list
		// stays sorted to match how the projection reads it back.
		if !team.hasPlayer(userID) {
			team.Players = append(team.Players, userID)
			sort.Ints(team.Players)
		}
		return next, nil

	case models.OpRemove:
		if loc.PlayerID == 0 {
			return Document{}, applyErr(op, ErrUnsupportedOp)
		}
		for idx, id := range team.Players {
			if id == loc.PlayerID {
				team.Players = append(team.Players[:idx], team.Players[idx+1:]...)
				return next, nil
			}
		}
		return Document{}, applyErr(op, ErrTargetNotFound)

	default:
		return Document{}, applyErr(op, ErrUnsupportedOp)
	}
}

type matchValue struct {
	ID int `json:"id"`
}

func decodeValue(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		// Absent value means "empty element" for adds (e.g. a bare round).
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return nil
}
