package services

import (
	"context"
	"sort"

	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/repositories"
)

// fakeStore is a single in-memory backing store shared by all fake
// repositories, standing in for the database inside service tests. Cascade
// deletes mirror the schema's FK cascades.
type fakeStore struct {
	lastID int

	game         *models.Game
	users        map[int]*models.User
	participants map[int]bool

	outcomes      []*models.GameOutcome
	revertedUsers []int

	meta map[int]*models.ResultsMeta

	rounds  []*models.Round
	matches []*models.GameMatch
	teams   []*models.Team
	players map[int][]int
	sets    []*models.GameSet
}

func newFakeStore(game *models.Game) *fakeStore {
	return &fakeStore{
		game:         game,
		users:        map[int]*models.User{},
		participants: map[int]bool{},
		meta:         map[int]*models.ResultsMeta{},
		players:      map[int][]int{},
	}
}

func (s *fakeStore) nextID() int {
	s.lastID++
	return s.lastID
}

func (s *fakeStore) roundsByGame(gameID int) []*models.Round {
	var out []*models.Round
	for _, r := range s.rounds {
		if r.GameID == gameID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *fakeStore) matchesByRound(roundID int) []*models.GameMatch {
	var out []*models.GameMatch
	for _, m := range s.matches {
		if m.RoundID == roundID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *fakeStore) teamsByMatch(matchID int) []*models.Team {
	var out []*models.Team
	for _, t := range s.teams {
		if t.MatchID == matchID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *fakeStore) setsByMatch(matchID int) []*models.GameSet {
	var out []*models.GameSet
	for _, set := range s.sets {
		if set.MatchID == matchID {
			out = append(out, set)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *fakeStore) deleteMatchCascade(matchID int) {
	for _, t := range s.teamsByMatch(matchID) {
		delete(s.players, t.ID)
	}
	s.teams = filterTeams(s.teams, func(t *models.Team) bool { return t.MatchID != matchID })
	s.sets = filterSets(s.sets, func(set *models.GameSet) bool { return set.MatchID != matchID })
	s.matches = filterMatches(s.matches, func(m *models.GameMatch) bool { return m.ID != matchID })
}

func (s *fakeStore) deleteRoundCascade(roundID int) {
	for _, m := range s.matchesByRound(roundID) {
		s.deleteMatchCascade(m.ID)
	}
	s.rounds = filterRounds(s.rounds, func(r *models.Round) bool { return r.ID != roundID })
}

func filterRounds(in []*models.Round, keep func(*models.Round) bool) []*models.Round {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterMatches(in []*models.GameMatch, keep func(*models.GameMatch) bool) []*models.GameMatch {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterTeams(in []*models.Team, keep func(*models.Team) bool) []*models.Team {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func filterSets(in []*models.GameSet, keep func(*models.GameSet) bool) []*models.GameSet {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// fakeTxRunner executes the transactional body directly against the shared
// store. The exec handle is unused by the fakes.
type fakeTxRunner struct{}

func (fakeTxRunner) WithinSerializableTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type fakeGameRepo struct{ store *fakeStore }

func (r *fakeGameRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Game, error) {
	if r.store.game == nil || r.store.game.ID != id {
		return nil, repositories.ErrGameNotFound
	}
	game := *r.store.game
	return &game, nil
}

func (r *fakeGameRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.GameStatus, resultsStatus models.ResultsStatus) error {
	if r.store.game == nil || r.store.game.ID != id {
		return repositories.ErrGameNotFound
	}
	r.store.game.Status = status
	r.store.game.ResultsStatus = resultsStatus
	return nil
}

func (r *fakeGameRepo) IsParticipant(_ context.Context, _ repositories.SQLExecutor, gameID, userID int) (bool, error) {
	return r.store.participants[userID], nil
}

type fakeUserRepo struct{ store *fakeStore }

func (r *fakeUserRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.User, error) {
	user, ok := r.store.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (r *fakeUserRepo) RevertOutcome(_ context.Context, _ repositories.SQLExecutor, outcome *models.GameOutcome) error {
	r.store.revertedUsers = append(r.store.revertedUsers, outcome.UserID)
	return nil
}

type fakeOutcomeRepo struct{ store *fakeStore }

func (r *fakeOutcomeRepo) ListByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) ([]*models.GameOutcome, error) {
	var out []*models.GameOutcome
	for _, o := range r.store.outcomes {
		if o.GameID == gameID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOutcomeRepo) DeleteAllByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	var kept []*models.GameOutcome
	for _, o := range r.store.outcomes {
		if o.GameID != gameID {
			kept = append(kept, o)
		}
	}
	r.store.outcomes = kept
	return nil
}

type fakeMetaRepo struct{ store *fakeStore }

func cloneMeta(m *models.ResultsMeta) *models.ResultsMeta {
	c := *m
	c.ProcessedOpIDs = append([]string{}, m.ProcessedOpIDs...)
	c.PathVersions = make(map[string]int, len(m.PathVersions))
	for k, v := range m.PathVersions {
		c.PathVersions[k] = v
	}
	return &c
}

func (r *fakeMetaRepo) Get(_ context.Context, _ repositories.SQLExecutor, gameID int) (*models.ResultsMeta, error) {
	if meta, ok := r.store.meta[gameID]; ok {
		return cloneMeta(meta), nil
	}
	return &models.ResultsMeta{GameID: gameID, ProcessedOpIDs: []string{}, PathVersions: map[string]int{}}, nil
}

func (r *fakeMetaRepo) GetForUpdate(_ context.Context, _ repositories.SQLExecutor, gameID int) (*models.ResultsMeta, error) {
	if _, ok := r.store.meta[gameID]; !ok {
		r.store.meta[gameID] = &models.ResultsMeta{GameID: gameID, ProcessedOpIDs: []string{}, PathVersions: map[string]int{}}
	}
	return cloneMeta(r.store.meta[gameID]), nil
}

func (r *fakeMetaRepo) Save(_ context.Context, _ repositories.SQLExecutor, meta *models.ResultsMeta) error {
	if _, ok := r.store.meta[meta.GameID]; !ok {
		return repositories.ErrResultsMetaNotFound
	}
	r.store.meta[meta.GameID] = cloneMeta(meta)
	return nil
}

type fakeRoundRepo struct{ store *fakeStore }

func (r *fakeRoundRepo) Create(_ context.Context, _ repositories.SQLExecutor, round *models.Round) error {
	round.ID = r.store.nextID()
	round.Number = len(r.store.roundsByGame(round.GameID)) + 1
	r.store.rounds = append(r.store.rounds, round)
	return nil
}

func (r *fakeRoundRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Round, error) {
	for _, round := range r.store.rounds {
		if round.ID == id {
			c := *round
			return &c, nil
		}
	}
	return nil, repositories.ErrRoundNotFound
}

func (r *fakeRoundRepo) GetByPosition(_ context.Context, _ repositories.SQLExecutor, gameID, position int) (*models.Round, error) {
	rounds := r.store.roundsByGame(gameID)
	if position < 0 || position >= len(rounds) {
		return nil, repositories.ErrRoundNotFound
	}
	c := *rounds[position]
	return &c, nil
}

func (r *fakeRoundRepo) ListByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) ([]*models.Round, error) {
	return r.store.roundsByGame(gameID), nil
}

func (r *fakeRoundRepo) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	for _, round := range r.store.rounds {
		if round.ID == id {
			r.store.deleteRoundCascade(id)
			return nil
		}
	}
	return repositories.ErrRoundNotFound
}

func (r *fakeRoundRepo) ShiftNumbersAfter(_ context.Context, _ repositories.SQLExecutor, gameID, number int) error {
	for _, round := range r.store.rounds {
		if round.GameID == gameID && round.Number > number {
			round.Number--
		}
	}
	return nil
}

func (r *fakeRoundRepo) DeleteAllByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	for _, round := range r.store.roundsByGame(gameID) {
		r.store.deleteRoundCascade(round.ID)
	}
	return nil
}

type fakeMatchRepo struct{ store *fakeStore }

func (r *fakeMatchRepo) Create(_ context.Context, _ repositories.SQLExecutor, match *models.GameMatch) error {
	match.ID = r.store.nextID()
	match.Number = len(r.store.matchesByRound(match.RoundID)) + 1
	r.store.matches = append(r.store.matches, match)
	return nil
}

func (r *fakeMatchRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.GameMatch, error) {
	for _, m := range r.store.matches {
		if m.ID == id {
			c := *m
			return &c, nil
		}
	}
	return nil, repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) GetByPosition(_ context.Context, _ repositories.SQLExecutor, roundID, position int) (*models.GameMatch, error) {
	matches := r.store.matchesByRound(roundID)
	if position < 0 || position >= len(matches) {
		return nil, repositories.ErrMatchNotFound
	}
	c := *matches[position]
	return &c, nil
}

func (r *fakeMatchRepo) ListByRound(_ context.Context, _ repositories.SQLExecutor, roundID int) ([]*models.GameMatch, error) {
	return r.store.matchesByRound(roundID), nil
}

func (r *fakeMatchRepo) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	for _, m := range r.store.matches {
		if m.ID == id {
			r.store.deleteMatchCascade(id)
			return nil
		}
	}
	return repositories.ErrMatchNotFound
}

func (r *fakeMatchRepo) ShiftNumbersAfter(_ context.Context, _ repositories.SQLExecutor, roundID, number int) error {
	for _, m := range r.store.matches {
		if m.RoundID == roundID && m.Number > number {
			m.Number--
		}
	}
	return nil
}

func (r *fakeMatchRepo) DeleteAllByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	for _, round := range r.store.roundsByGame(gameID) {
		for _, m := range r.store.matchesByRound(round.ID) {
			r.store.deleteMatchCascade(m.ID)
		}
	}
	return nil
}

type fakeTeamRepo struct{ store *fakeStore }

func (r *fakeTeamRepo) Create(_ context.Context, _ repositories.SQLExecutor, team *models.Team) error {
	team.ID = r.store.nextID()
	r.store.teams = append(r.store.teams, team)
	return nil
}

func (r *fakeTeamRepo) GetByMatchAndNumber(_ context.Context, _ repositories.SQLExecutor, matchID, number int) (*models.Team, error) {
	for _, t := range r.store.teams {
		if t.MatchID == matchID && t.Number == number {
			c := *t
			return &c, nil
		}
	}
	return nil, repositories.ErrTeamNotFound
}

func (r *fakeTeamRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.Team, error) {
	return r.store.teamsByMatch(matchID), nil
}

func (r *fakeTeamRepo) ListPlayers(_ context.Context, _ repositories.SQLExecutor, teamID int) ([]int, error) {
	players := append([]int{}, r.store.players[teamID]...)
	sort.Ints(players)
	return players, nil
}

func (r *fakeTeamRepo) UpsertPlayer(_ context.Context, _ repositories.SQLExecutor, teamID, userID int) error {
	for _, id := range r.store.players[teamID] {
		if id == userID {
			return nil
		}
	}
	r.store.players[teamID] = append(r.store.players[teamID], userID)
	return nil
}

func (r *fakeTeamRepo) RemovePlayer(_ context.Context, _ repositories.SQLExecutor, teamID, userID int) error {
	players := r.store.players[teamID]
	for i, id := range players {
		if id == userID {
			r.store.players[teamID] = append(players[:i], players[i+1:]...)
			return nil
		}
	}
	return repositories.ErrTeamPlayerNotFound
}

func (r *fakeTeamRepo) DeletePlayersByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	for _, round := range r.store.roundsByGame(gameID) {
		for _, m := range r.store.matchesByRound(round.ID) {
			for _, t := range r.store.teamsByMatch(m.ID) {
				delete(r.store.players, t.ID)
			}
		}
	}
	return nil
}

func (r *fakeTeamRepo) DeleteAllByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	for _, round := range r.store.roundsByGame(gameID) {
		for _, m := range r.store.matchesByRound(round.ID) {
			r.store.teams = filterTeams(r.store.teams, func(t *models.Team) bool { return t.MatchID != m.ID })
		}
	}
	return nil
}

type fakeSetRepo struct{ store *fakeStore }

func (r *fakeSetRepo) Create(_ context.Context, _ repositories.SQLExecutor, set *models.GameSet) error {
	set.ID = r.store.nextID()
	set.Number = len(r.store.setsByMatch(set.MatchID)) + 1
	r.store.sets = append(r.store.sets, set)
	return nil
}

func (r *fakeSetRepo) GetByPosition(_ context.Context, _ repositories.SQLExecutor, matchID, position int) (*models.GameSet, error) {
	sets := r.store.setsByMatch(matchID)
	if position < 0 || position >= len(sets) {
		return nil, repositories.ErrSetNotFound
	}
	c := *sets[position]
	return &c, nil
}

func (r *fakeSetRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.GameSet, error) {
	return r.store.setsByMatch(matchID), nil
}

func (r *fakeSetRepo) UpdateScores(_ context.Context, _ repositories.SQLExecutor, id, teamAScore, teamBScore int) error {
	for _, set := range r.store.sets {
		if set.ID == id {
			set.TeamAScore = teamAScore
			set.TeamBScore = teamBScore
			return nil
		}
	}
	return repositories.ErrSetNotFound
}

func (r *fakeSetRepo) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	for _, set := range r.store.sets {
		if set.ID == id {
			r.store.sets = filterSets(r.store.sets, func(s *models.GameSet) bool { return s.ID != id })
			return nil
		}
	}
	return repositories.ErrSetNotFound
}

func (r *fakeSetRepo) ShiftNumbersAfter(_ context.Context, _ repositories.SQLExecutor, matchID, number int) error {
	for _, set := range r.store.sets {
		if set.MatchID == matchID && set.Number > number {
			set.Number--
		}
	}
	return nil
}

func (r *fakeSetRepo) DeleteAllByGame(_ context.Context, _ repositories.SQLExecutor, gameID int) error {
	for _, round := range r.store.roundsByGame(gameID) {
		for _, m := range r.store.matchesByRound(round.ID) {
			r.store.sets = filterSets(r.store.sets, func(s *models.GameSet) bool { return s.MatchID != m.ID })
		}
	}
	return nil
}
