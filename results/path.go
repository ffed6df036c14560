package results

import (
	"fmt"
	"strconv"
	"strings"
)

// PathKind is the closed set of addressable shapes in a results document.
// Parsing resolves every incoming path into exactly one of these, so an
// unhandled path shape is a parse error, never a silent no-op.
type PathKind int

const (
	PathReset PathKind = iota
	PathRounds
	PathRoundMatches
	PathMatchSets
	PathMatchTeamPlayers
)

func (k PathKind) String() string {
	switch k {
	case PathReset:
		return "reset"
	case PathRounds:
		return "rounds"
	case PathRoundMatches:
		return "matches"
	case PathMatchSets:
		return "sets"
	case PathMatchTeamPlayers:
		return "team_players"
	}
	return "unknown"
}

type TeamSlot string

const (
	TeamSlotA TeamSlot = "teamA"
	TeamSlotB TeamSlot = "teamB"
)

// ElemRef addresses one element of an ordered list, either by 0-based position
// (resolved against the current server-side order at apply time) or by the
// stable row id, written as "id:<n>".
type ElemRef struct {
	Index int
	ID    int
	ByID  bool
}

func (r ElemRef) String() string {
	if r.ByID {
		return "id:" + strconv.Itoa(r.ID)
	}
	return strconv.Itoa(r.Index)
}

// Locator is a parsed path. Round is nil for PathReset and for ops on the
// rounds list itself; Match is nil above the match level; Set is nil for ops
// on a sets list. PlayerID is 0 unless the path carries a player suffix.
type Locator struct {
	Kind     PathKind
	Round    *ElemRef
	Match    *ElemRef
	Set      *ElemRef
	Team     TeamSlot
	PlayerID int
}

// Key returns the canonical form of the locator, used as the per-path entry in
// the version ledger. Equivalent spellings of one path share a key.
func (l Locator) Key() string {
	switch l.Kind {
	case PathReset:
		return "reset"
	case PathRounds:
		if l.Round == nil {
			return "rounds"
		}
		return "rounds/" + l.Round.String()
	case PathRoundMatches:
		base := "rounds/" + l.Round.String() + "/matches"
		if l.Match == nil {
			return base
		}
		return base + "/" + l.Match.String()
	case PathMatchSets:
		base := "rounds/" + l.Round.String() + "/matches/" + l.Match.String() + "/sets"
		if l.Set == nil {
			return base
		}
		return base + "/" + l.Set.String()
	case PathMatchTeamPlayers:
		base := "rounds/" + l.Round.String() + "/matches/" + l.Match.String() + "/teams/" + string(l.Team)
		if l.PlayerID != 0 {
			return base + "/" + strconv.Itoa(l.PlayerID)
		}
		return base
	}
	return ""
}

type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid results path %q: %s", e.Path, e.Reason)
}

func pathErr(path, format string, args ...interface{}) error {
	return &PathError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ParsePath parses a slash-delimited results path into a Locator.
//
// Grammar:
//
//	/reset
//	/rounds
//	/rounds/<r>
//	/rounds/<r>/matches
//	/rounds/<r>/matches/<m>
//	/rounds/<r>/matches/<m>/sets
//	/rounds/<r>/matches/<m>/sets/<s>
//	/rounds/<r>/matches/<m>/teams/teamA|teamB[/<playerID>]
//
// where <r> and <m> are either a 0-based position or "id:<n>".
func ParsePath(path string) (Locator, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Locator{}, pathErr(path, "empty path")
	}
	segs := strings.Split(trimmed, "/")

	if segs[0] == "reset" {
		if len(segs) != 1 {
			return Locator{}, pathErr(path, "reset takes no sub-path")
		}
		return Locator{Kind: PathReset}, nil
	}
	if segs[0] != "rounds" {
		return Locator{}, pathErr(path, "must start with /rounds or /reset")
	}

	loc := Locator{Kind: PathRounds}
	if len(segs) == 1 {
		return loc, nil
	}

	roundRef, err := parseElemRef(path, segs[1])
	if err != nil {
		return Locator{}, err
	}
	loc.Round = &roundRef
	if len(segs) == 2 {
		return loc, nil
	}

	if segs[2] != "matches" {
		return Locator{}, pathErr(path, "expected \"matches\", got %q", segs[2])
	}
	loc.Kind = PathRoundMatches
	if len(segs) == 3 {
		return loc, nil
	}

	matchRef, err := parseElemRef(path, segs[3])
	if err != nil {
		return Locator{}, err
	}
	loc.Match = &matchRef
	if len(segs) == 4 {
		return loc, nil
	}

	switch segs[4] {
	case "sets":
		loc.Kind = PathMatchSets
		if len(segs) == 5 {
			return loc, nil
		}
		if len(segs) > 6 {
			return Locator{}, pathErr(path, "sets path too deep")
		}
		setRef, err := parseElemRef(path, segs[5])
		if err != nil {
			return Locator{}, err
		}
		loc.Set = &setRef
		return loc, nil

	case "teams":
		loc.Kind = PathMatchTeamPlayers
		if len(segs) < 6 {
			return Locator{}, pathErr(path, "teams path requires teamA or teamB")
		}
		switch segs[5] {
		case string(TeamSlotA):
			loc.Team = TeamSlotA
		case string(TeamSlotB):
			loc.Team = TeamSlotB
		default:
			return Locator{}, pathErr(path, "unknown team slot %q", segs[5])
		}
		if len(segs) == 6 {
			return loc, nil
		}
		if len(segs) > 7 {
			return Locator{}, pathErr(path, "team players path too deep")
		}
		playerID, convErr := strconv.Atoi(segs[6])
		if convErr != nil || playerID <= 0 {
			return Locator{}, pathErr(path, "invalid player id %q", segs[6])
		}
		loc.PlayerID = playerID
		return loc, nil

	default:
		return Locator{}, pathErr(path, "expected \"sets\" or \"teams\", got %q", segs[4])
	}
}

func parseElemRef(path, seg string) (ElemRef, error) {
	if id, ok := strings.CutPrefix(seg, "id:"); ok {
		n, err := strconv.Atoi(id)
		if err != nil || n <= 0 {
			return ElemRef{}, pathErr(path, "invalid element id %q", seg)
		}
		return ElemRef{ID: n, ByID: true}, nil
	}
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 {
		return ElemRef{}, pathErr(path, "invalid element index %q", seg)
	}
	return ElemRef{Index: idx}, nil
}
