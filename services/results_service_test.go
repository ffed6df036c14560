package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/results"
)

const (
	testGameID    = 42
	testCreatorID = 7
	testAdminID   = 8
	testPlayerID  = 9
	testStranger  = 10
)

func newTestStore() *fakeStore {
	now := time.Now().UTC()
	store := newFakeStore(&models.Game{
		ID:            testGameID,
		CreatorID:     testCreatorID,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		Status:        models.GameStatusScheduled,
		ResultsStatus: models.ResultsStatusNone,
	})
	store.users[testCreatorID] = &models.User{ID: testCreatorID}
	store.users[testAdminID] = &models.User{ID: testAdminID, IsAdmin: true}
	store.users[testPlayerID] = &models.User{ID: testPlayerID}
	store.users[testStranger] = &models.User{ID: testStranger}
	return store
}

func newTestService(store *fakeStore) *resultsService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewResultsService(
		fakeTxRunner{},
		nil,
		&fakeGameRepo{store},
		&fakeMetaRepo{store},
		&fakeRoundRepo{store},
		&fakeMatchRepo{store},
		&fakeTeamRepo{store},
		&fakeSetRepo{store},
		&fakeUserRepo{store},
		NewRatingService(&fakeOutcomeRepo{store}, &fakeUserRepo{store}, logger),
		time.Minute,
		logger,
	)
	return svc.(*resultsService)
}

func op(id string, base int, kind models.OpKind, path, value string) models.Operation {
	o := models.Operation{ID: id, BaseVersion: base, Kind: kind, Path: path}
	if value != "" {
		o.Value = json.RawMessage(value)
	}
	return o
}

// buildTree submits one batch that creates a round with one match, one set and
// one player per team, and returns the applied op ids.
func buildTree(t *testing.T, svc *resultsService) []string {
	t.Helper()
	ops := []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/rounds", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/sets", `{"teamA":21,"teamB":15}`),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/teams/teamA/101", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/teams/teamB/102", ""),
	}
	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.Len(t, result.Applied, len(ops))
	require.Equal(t, 1, result.HeadVersion)
	applied := make([]string, len(ops))
	for i, o := range ops {
		applied[i] = o.ID
	}
	return applied
}

func TestSubmitBuildsResultsTree(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	require.Len(t, store.rounds, 1)
	assert.Equal(t, 1, store.rounds[0].Number)

	matches := store.matchesByRound(store.rounds[0].ID)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].Number)

	teams := store.teamsByMatch(matches[0].ID)
	require.Len(t, teams, 2)
	assert.Equal(t, []int{101}, store.players[teams[0].ID])
	assert.Equal(t, []int{102}, store.players[teams[1].ID])

	sets := store.setsByMatch(matches[0].ID)
	require.Len(t, sets, 1)
	assert.Equal(t, 21, sets[0].TeamAScore)
	assert.Equal(t, 15, sets[0].TeamBScore)

	assert.Equal(t, models.ResultsStatusInProgress, store.game.ResultsStatus)
	assert.Equal(t, models.GameStatusInProgress, store.game.Status)
}

func TestSubmitCreatesRoundLazilyForMatchAdd(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	// No round exists yet; a positional match add one past the end creates it.
	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	require.Len(t, result.Applied, 1)

	require.Len(t, store.rounds, 1)
	require.Len(t, store.matchesByRound(store.rounds[0].ID), 1)
}

func TestSubmitIsIdempotentPerBatch(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	key := uuid.NewString()
	ops := []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/rounds", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches", ""),
	}

	first, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, key)
	require.NoError(t, err)
	require.Equal(t, 1, first.HeadVersion)

	// Immediate retry is absorbed by the result cache.
	second, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, key)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// After the cache expires the ledger still recognizes the batch.
	svc.resultCache.Flush()
	third, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, key)
	require.NoError(t, err)
	assert.Equal(t, 1, third.HeadVersion)
	assert.ElementsMatch(t, first.Applied, third.Applied)

	require.Len(t, store.rounds, 1)
	require.Len(t, store.matchesByRound(store.rounds[0].ID), 1)
}

func TestSubmitLedgerReplayKeepsConflicts(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`),
	}, uuid.NewString())
	require.NoError(t, err)

	key := uuid.NewString()
	staleSet := op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":10,"teamB":5}`)
	freshPlayer := op(uuid.NewString(), 1, models.OpAdd, "/rounds/0/matches/0/teams/teamA/103", "")
	ops := []models.Operation{staleSet, freshPlayer}

	first, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, key)
	require.NoError(t, err)
	require.Len(t, first.Conflicts, 1)
	require.Equal(t, []string{freshPlayer.ID}, first.Applied)

	// A retry after the cached result expired must report the same split,
	// with the conflict re-synthesized rather than silently dropped.
	svc.resultCache.Flush()
	retry, err := svc.Submit(context.Background(), testGameID, testCreatorID, ops, key)
	require.NoError(t, err)

	assert.Equal(t, first.HeadVersion, retry.HeadVersion)
	assert.Equal(t, first.Applied, retry.Applied)
	require.Len(t, retry.Conflicts, 1)
	assert.Equal(t, staleSet.ID, retry.Conflicts[0].OpID)
	assert.Equal(t, models.ConflictReasonStaleVersion, retry.Conflicts[0].Reason)

	sets := store.setsByMatch(store.matches[0].ID)
	require.Len(t, sets, 1)
	assert.Equal(t, 25, sets[0].TeamAScore)
}

func TestSubmitSkipsAlreadyProcessedOps(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	addRound := op(uuid.NewString(), 0, models.OpAdd, "/rounds", "")
	first, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{addRound}, uuid.NewString())
	require.NoError(t, err)
	require.Equal(t, 1, first.HeadVersion)

	// The same op in a different batch is acknowledged but not re-applied,
	// and a batch with no new effects does not advance the version.
	second, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{addRound}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, []string{addRound.ID}, second.Applied)
	assert.Equal(t, 1, second.HeadVersion)
	assert.Len(t, store.rounds, 1)
}

func TestSubmitVersionAdvancesByOnePerBatch(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`),
		op(uuid.NewString(), 1, models.OpAdd, "/rounds/0/matches/0/sets", `{"teamA":11,"teamB":9}`),
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 2, result.HeadVersion)

	sets := store.setsByMatch(store.matches[0].ID)
	require.Len(t, sets, 2)
	assert.Equal(t, 25, sets[0].TeamAScore)
	assert.Equal(t, 20, sets[0].TeamBScore)
}

func TestSubmitStaleOpConflictsOnlyOnTouchedPath(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	// Advance the set score at head version 1.
	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`),
	}, uuid.NewString())
	require.NoError(t, err)

	// A client still at version 1 edits the now-stale set path and an
	// untouched player path in the same batch.
	staleSet := op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":10,"teamB":5}`)
	freshPlayer := op(uuid.NewString(), 1, models.OpAdd, "/rounds/0/matches/0/teams/teamA/103", "")

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{staleSet, freshPlayer}, uuid.NewString())
	require.NoError(t, err)

	assert.Equal(t, []string{freshPlayer.ID}, result.Applied)
	require.Len(t, result.Conflicts, 1)

	conflict := result.Conflicts[0]
	assert.Equal(t, staleSet.ID, conflict.OpID)
	assert.Equal(t, models.ConflictReasonStaleVersion, conflict.Reason)

	require.Len(t, conflict.ServerPatch, 1)
	assert.Equal(t, staleSet.Path, conflict.ServerPatch[0].Path)
	var serverValue results.Set
	require.NoError(t, json.Unmarshal(conflict.ServerPatch[0].Value, &serverValue))
	assert.Equal(t, results.Set{TeamA: 25, TeamB: 20}, serverValue)

	require.Len(t, conflict.ClientPatch, 1)
	assert.Equal(t, staleSet.ID, conflict.ClientPatch[0].ID)

	// The rejected score never reached the database.
	sets := store.setsByMatch(store.matches[0].ID)
	require.Len(t, sets, 1)
	assert.Equal(t, 25, sets[0].TeamAScore)
}

func TestSubmitStaleIdenticalReplayIsNoop(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`),
	}, uuid.NewString())
	require.NoError(t, err)

	// A stale op that writes the value the server already holds is accepted,
	// and a batch that changes nothing does not advance the version.
	identical := op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`)
	result, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{identical}, uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, []string{identical.ID}, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 2, result.HeadVersion)
}

func TestSubmitStaleIDAddressedEditConflicts(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	// Advance the set score through the positional spelling.
	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":25,"teamB":20}`),
	}, uuid.NewString())
	require.NoError(t, err)

	roundID := store.rounds[0].ID
	matchID := store.matches[0].ID
	idPath := fmt.Sprintf("/rounds/id:%d/matches/id:%d/sets/0", roundID, matchID)

	// The same element addressed by stable id must hit the same ledger entry.
	stale := op(uuid.NewString(), 1, models.OpReplace, idPath, `{"teamA":1,"teamB":0}`)
	result, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{stale}, uuid.NewString())
	require.NoError(t, err)

	assert.Empty(t, result.Applied)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, stale.ID, result.Conflicts[0].OpID)
	assert.Equal(t, models.ConflictReasonStaleVersion, result.Conflicts[0].Reason)

	sets := store.setsByMatch(matchID)
	require.Len(t, sets, 1)
	assert.Equal(t, 25, sets[0].TeamAScore)

	// And the reverse: an id-addressed edit gates a later stale positional one.
	_, err = svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 2, models.OpReplace, idPath, `{"teamA":27,"teamB":25}`),
	}, uuid.NewString())
	require.NoError(t, err)

	stalePositional := op(uuid.NewString(), 2, models.OpReplace, "/rounds/0/matches/0/sets/0", `{"teamA":3,"teamB":2}`)
	result, err = svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{stalePositional}, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	require.Len(t, result.Conflicts, 1)

	sets = store.setsByMatch(matchID)
	require.Len(t, sets, 1)
	assert.Equal(t, 27, sets[0].TeamAScore)
}

func TestSubmitRemoveKeepsOrdinalsDense(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/rounds", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds", ""),
	}, uuid.NewString())
	require.NoError(t, err)

	rounds := store.roundsByGame(testGameID)
	require.Len(t, rounds, 3)
	firstID, middleID, lastID := rounds[0].ID, rounds[1].ID, rounds[2].ID

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpRemove, "/rounds/1", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)

	rounds = store.roundsByGame(testGameID)
	require.Len(t, rounds, 2)
	assert.Equal(t, firstID, rounds[0].ID)
	assert.Equal(t, lastID, rounds[1].ID)
	assert.Equal(t, 1, rounds[0].Number)
	assert.Equal(t, 2, rounds[1].Number)

	for _, r := range rounds {
		assert.NotEqual(t, middleID, r.ID)
	}
}

func TestSubmitRemoveSetRenumbers(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	_, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches", ""),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/sets", `{"teamA":21,"teamB":15}`),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/sets", `{"teamA":19,"teamB":21}`),
		op(uuid.NewString(), 0, models.OpAdd, "/rounds/0/matches/0/sets", `{"teamA":11,"teamB":7}`),
	}, uuid.NewString())
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpRemove, "/rounds/0/matches/0/sets/1", ""),
	}, uuid.NewString())
	require.NoError(t, err)

	sets := store.setsByMatch(store.matches[0].ID)
	require.Len(t, sets, 2)
	assert.Equal(t, 1, sets[0].Number)
	assert.Equal(t, 2, sets[1].Number)
	assert.Equal(t, 21, sets[0].TeamAScore)
	assert.Equal(t, 11, sets[1].TeamAScore)
}

func TestSubmitResetRevertsOutcomesAndClearsTree(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)
	store.outcomes = []*models.GameOutcome{
		{ID: 1, GameID: testGameID, UserID: 101, RatingBefore: 1490, RatingAfter: 1510},
		{ID: 2, GameID: testGameID, UserID: 102, RatingBefore: 1520, RatingAfter: 1500},
	}

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/reset", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	assert.Equal(t, 2, result.HeadVersion)

	assert.Empty(t, store.rounds)
	assert.Empty(t, store.matches)
	assert.Empty(t, store.teams)
	assert.Empty(t, store.sets)
	assert.ElementsMatch(t, []int{101, 102}, store.revertedUsers)
	assert.Empty(t, store.outcomes)
	assert.Equal(t, models.ResultsStatusNone, store.game.ResultsStatus)
}

func TestSubmitResetWithWrongKindHasNoEffect(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)
	store.outcomes = []*models.GameOutcome{
		{ID: 1, GameID: testGameID, UserID: 101, RatingBefore: 1490, RatingAfter: 1510},
	}

	// The reset sentinel only accepts replace; a remove fails in the applier
	// and must not revert outcomes or touch the tree on its way out.
	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpRemove, "/reset", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 1, result.HeadVersion)

	assert.Len(t, store.rounds, 1)
	assert.Empty(t, store.revertedUsers)
	require.Len(t, store.outcomes, 1)
	assert.Equal(t, 101, store.outcomes[0].UserID)
}

func TestSubmitResetAndRebuildInOneBatch(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	buildTree(t, svc)

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 1, models.OpReplace, "/reset", ""),
		op(uuid.NewString(), 1, models.OpAdd, "/rounds", ""),
		op(uuid.NewString(), 1, models.OpAdd, "/rounds/0/matches", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.Len(t, result.Applied, 3)

	rounds := store.roundsByGame(testGameID)
	require.Len(t, rounds, 1)
	require.Len(t, store.matchesByRound(rounds[0].ID), 1)
	assert.Empty(t, store.sets)
	assert.Equal(t, models.ResultsStatusInProgress, store.game.ResultsStatus)
}

func TestSubmitSkipsMalformedPaths(t *testing.T) {
	store := newTestStore()
	svc := newTestService(store)

	result, err := svc.Submit(context.Background(), testGameID, testCreatorID, []models.Operation{
		op(uuid.NewString(), 0, models.OpAdd, "/bogus/path", ""),
	}, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 0, result.HeadVersion)
	assert.Empty(t, store.rounds)
}

func TestSubmitAuthorization(t *testing.T) {
	addRound := func() []models.Operation {
		return []models.Operation{op(uuid.NewString(), 0, models.OpAdd, "/rounds", "")}
	}

	t.Run("stranger is rejected", func(t *testing.T) {
		svc := newTestService(newTestStore())
		_, err := svc.Submit(context.Background(), testGameID, testStranger, addRound(), uuid.NewString())
		assert.ErrorIs(t, err, ErrEditNotAllowed)
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		svc := newTestService(newTestStore())
		_, err := svc.Submit(context.Background(), testGameID, 9999, addRound(), uuid.NewString())
		assert.ErrorIs(t, err, ErrEditNotAllowed)
	})

	t.Run("admin may edit", func(t *testing.T) {
		svc := newTestService(newTestStore())
		_, err := svc.Submit(context.Background(), testGameID, testAdminID, addRound(), uuid.NewString())
		assert.NoError(t, err)
	})

	t.Run("participant needs the open-edit flag", func(t *testing.T) {
		store := newTestStore()
		store.participants[testPlayerID] = true
		svc := newTestService(store)
		_, err := svc.Submit(context.Background(), testGameID, testPlayerID, addRound(), uuid.NewString())
		assert.ErrorIs(t, err, ErrEditNotAllowed)

		store.game.AnyoneCanEdit = true
		_, err = svc.Submit(context.Background(), testGameID, testPlayerID, addRound(), uuid.NewString())
		assert.NoError(t, err)
	})
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(newTestStore())
	validOp := op(uuid.NewString(), 0, models.OpAdd, "/rounds", "")

	t.Run("empty batch", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), testGameID, testCreatorID, nil, uuid.NewString())
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("invalid idempotency key", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), testGameID, testCreatorID,
			[]models.Operation{validOp}, "not-a-uuid")
		assert.ErrorIs(t, err, ErrInvalidIdempotencyKey)
	})

	t.Run("invalid op id", func(t *testing.T) {
		bad := validOp
		bad.ID = "nope"
		_, err := svc.Submit(context.Background(), testGameID, testCreatorID,
			[]models.Operation{bad}, uuid.NewString())
		assert.ErrorIs(t, err, ErrInvalidOperationID)
	})

	t.Run("unknown game", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), 999, testCreatorID,
			[]models.Operation{validOp}, uuid.NewString())
		assert.ErrorIs(t, err, ErrGameNotFound)
	})
}

func TestSubmitRejectsConcurrentBatchForSameGame(t *testing.T) {
	svc := newTestService(newTestStore())

	require.True(t, svc.locks.TryLock(testGameID))
	defer svc.locks.Unlock(testGameID)

	_, err := svc.Submit(context.Background(), testGameID, testCreatorID,
		[]models.Operation{op(uuid.NewString(), 0, models.OpAdd, "/rounds", "")}, uuid.NewString())
	assert.ErrorIs(t, err, ErrResultsBusy)
}
