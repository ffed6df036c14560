package results

// Document is the in-memory tree form of a game's results. It is treated as an
// immutable value: Apply returns a fresh copy and never mutates its input.
type Document struct {
	Rounds []Round `json:"rounds"`
}

type Round struct {
	ID      int     `json:"id,omitempty"`
	Matches []Match `json:"matches"`
}

type Match struct {
	ID    int     `json:"id,omitempty"`
	Teams [2]Team `json:"teams"`
	Sets  []Set   `json:"sets"`
}

type Team struct {
	Number  int   `json:"team_number"`
	Players []int `json:"players"`
}

type Set struct {
	TeamA int `json:"teamA"`
	TeamB int `json:"teamB"`
}

// NewMatch returns a match with its two empty teams, matching the relational
// invariant that every match row owns exactly two team rows.
func NewMatch(id int) Match {
	return Match{
		ID:    id,
		Teams: [2]Team{{Number: 1}, {Number: 2}},
	}
}

func (d Document) clone() Document {
	out := Document{}
	if d.Rounds == nil {
		return out
	}
	out.Rounds = make([]Round, len(d.Rounds))
	for i, r := range d.Rounds {
		out.Rounds[i] = r.clone()
	}
	return out
}

func (r Round) clone() Round {
	out := Round{ID: r.ID}
	if r.Matches != nil {
		out.Matches = make([]Match, len(r.Matches))
		for i, m := range r.Matches {
			out.Matches[i] = m.clone()
		}
	}
	return out
}

func (m Match) clone() Match {
	out := Match{ID: m.ID}
	for i, t := range m.Teams {
		out.Teams[i] = Team{Number: t.Number}
		if t.Players != nil {
			out.Teams[i].Players = append([]int(nil), t.Players...)
		}
	}
	if m.Sets != nil {
		out.Sets = append([]Set(nil), m.Sets...)
	}
	return out
}

// CanonicalLocator rewrites positional round and match refs to their stable-id
// form when the addressed rows carry ids, so both spellings of one path share
// a version-ledger key. Refs that do not resolve, and rows created in the
// current batch (id still unknown), keep the client's spelling.
func (d Document) CanonicalLocator(loc Locator) Locator {
	out := loc
	i, ok := d.roundAt(loc.Round)
	if !ok || d.Rounds[i].ID == 0 {
		return out
	}
	round := d.Rounds[i]
	roundRef := ElemRef{ID: round.ID, ByID: true}
	out.Round = &roundRef

	j, ok := round.matchAt(loc.Match)
	if !ok || round.Matches[j].ID == 0 {
		return out
	}
	matchRef := ElemRef{ID: round.Matches[j].ID, ByID: true}
	out.Match = &matchRef
	return out
}

// roundAt resolves an element ref against the current round order.
func (d Document) roundAt(ref *ElemRef) (int, bool) {
	if ref == nil {
		return -1, false
	}
	if ref.ByID {
		for i, r := range d.Rounds {
			if r.ID == ref.ID {
				return i, true
			}
		}
		return -1, false
	}
	if ref.Index < 0 || ref.Index >= len(d.Rounds) {
		return -1, false
	}
	return ref.Index, true
}

func (r Round) matchAt(ref *ElemRef) (int, bool) {
	if ref == nil {
		return -1, false
	}
	if ref.ByID {
		for i, m := range r.Matches {
			if m.ID == ref.ID {
				return i, true
			}
		}
		return -1, false
	}
	if ref.Index < 0 || ref.Index >= len(r.Matches) {
		return -1, false
	}
	return ref.Index, true
}

func (t Team) hasPlayer(userID int) bool {
	for _, id := range t.Players {
		if id == userID {
			return true
		}
	}
	return false
}

func teamIndex(slot TeamSlot) int {
	if slot == TeamSlotB {
		return 1
	}
	return 0
}

// ValueAt returns the value the locator addresses, or ok=false when the path
// does not resolve against this document. For a team-player path carrying a
// player id the value is the membership flag; for a bare team path it is the
// player list.
func (d Document) ValueAt(loc Locator) (interface{}, bool) {
	switch loc.Kind {
	case PathReset:
		return d, true

	case PathRounds:
		if loc.Round == nil {
			return d.Rounds, true
		}
		i, ok := d.roundAt(loc.Round)
		if !ok {
			return nil, false
		}
		return d.Rounds[i], true

	case PathRoundMatches:
		i, ok := d.roundAt(loc.Round)
		if !ok {
			return nil, false
		}
		round := d.Rounds[i]
		if loc.Match == nil {
			return round.Matches, true
		}
		j, ok := round.matchAt(loc.Match)
		if !ok {
			return nil, false
		}
		return round.Matches[j], true

	case PathMatchSets:
		m, ok := d.matchFor(loc)
		if !ok {
			return nil, false
		}
		if loc.Set == nil {
			return m.Sets, true
		}
		if loc.Set.ByID || loc.Set.Index < 0 || loc.Set.Index >= len(m.Sets) {
			return nil, false
		}
		return m.Sets[loc.Set.Index], true

	case PathMatchTeamPlayers:
		m, ok := d.matchFor(loc)
		if !ok {
			return nil, false
		}
		team := m.Teams[teamIndex(loc.Team)]
		if loc.PlayerID != 0 {
			return team.hasPlayer(loc.PlayerID), true
		}
		return team.Players, true
	}
	return nil, false
}

func (d Document) matchFor(loc Locator) (Match, bool) {
	i, ok := d.roundAt(loc.Round)
	if !ok {
		return Match{}, false
	}
	j, ok := d.Rounds[i].matchAt(loc.Match)
	if !ok {
		return Match{}, false
	}
	return d.Rounds[i].Matches[j], true
}
