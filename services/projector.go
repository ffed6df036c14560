package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matchpoint-app/results-engine/models"
	"github.com/matchpoint-app/results-engine/repositories"
	"github.com/matchpoint-app/results-engine/results"
)

// relationalProjector translates accepted operations into row mutations,
// keeping the 1..N ordinal invariant after every structural delete. Positional
// refs are resolved against the database order at the moment of application,
// never against positions computed earlier in the batch.
type relationalProjector struct {
	roundRepo repositories.RoundRepository
	matchRepo repositories.MatchRepository
	teamRepo  repositories.TeamRepository
	setRepo   repositories.SetRepository
}

func newRelationalProjector(
	roundRepo repositories.RoundRepository,
	matchRepo repositories.MatchRepository,
	teamRepo repositories.TeamRepository,
	setRepo repositories.SetRepository,
) *relationalProjector {
	return &relationalProjector{
		roundRepo: roundRepo,
		matchRepo: matchRepo,
		teamRepo:  teamRepo,
		setRepo:   setRepo,
	}
}

// reset cascade-deletes the whole results subtree in dependency order.
func (p *relationalProjector) reset(ctx context.Context, exec repositories.SQLExecutor, gameID int) error {
	if err := p.setRepo.DeleteAllByGame(ctx, exec, gameID); err != nil {
		return err
	}
	if err := p.teamRepo.DeletePlayersByGame(ctx, exec, gameID); err != nil {
		return err
	}
	if err := p.teamRepo.DeleteAllByGame(ctx, exec, gameID); err != nil {
		return err
	}
	if err := p.matchRepo.DeleteAllByGame(ctx, exec, gameID); err != nil {
		return err
	}
	return p.roundRepo.DeleteAllByGame(ctx, exec, gameID)
}

func (p *relationalProjector) project(ctx context.Context, exec repositories.SQLExecutor, gameID int, loc results.Locator, op models.Operation) error {
	switch loc.Kind {
	case results.PathReset:
		return p.reset(ctx, exec, gameID)
	case results.PathRounds:
		return p.projectRounds(ctx, exec, gameID, loc, op)
	case results.PathRoundMatches:
		return p.projectMatches(ctx, exec, gameID, loc, op)
	case results.PathMatchSets:
		return p.projectSets(ctx, exec, gameID, loc, op)
	case results.PathMatchTeamPlayers:
		return p.projectTeamPlayers(ctx, exec, gameID, loc, op)
	}
	return results.ErrUnsupportedOp
}

func (p *relationalProjector) projectRounds(ctx context.Context, exec repositories.SQLExecutor, gameID int, loc results.Locator, op models.Operation) error {
	if loc.Round == nil {
		if op.Kind != models.OpAdd {
			return results.ErrUnsupportedOp
		}
		round := &models.Round{GameID: gameID, Status: models.RoundStatusInProgress}
		return p.roundRepo.Create(ctx, exec, round)
	}

	if op.Kind != models.OpRemove {
		return results.ErrUnsupportedOp
	}
	round, err := p.resolveRound(ctx, exec, gameID, loc.Round)
	if err != nil {
		return err
	}
	// Child matches, teams and sets go with the round via FK cascade.
	if err := p.roundRepo.Delete(ctx, exec, round.ID); err != nil {
		return err
	}
	return p.roundRepo.ShiftNumbersAfter(ctx, exec, gameID, round.Number)
}

func (p *relationalProjector) projectMatches(ctx context.Context, exec repositories.SQLExecutor, gameID int, loc results.Locator, op models.Operation) error {
	if loc.Match == nil {
		if op.Kind != models.OpAdd {
			return results.ErrUnsupportedOp
		}
		round, err := p.resolveRound(ctx, exec, gameID, loc.Round)
		if errors.Is(err, repositories.ErrRoundNotFound) && loc.Round != nil && !loc.Round.ByID {
			// Lazily create the round a positional match add points at.
			round = &models.Round{GameID: gameID, Status: models.RoundStatusInProgress}
			if createErr := p.roundRepo.Create(ctx, exec, round); createErr != nil {
				return createErr
			}
		} else if err != nil {
			return err
		}

		match := &models.GameMatch{RoundID: round.ID}
		if err := p.matchRepo.Create(ctx, exec, match); err != nil {
			return err
		}
		// Every match owns exactly two teams.
		for _, number := range []int{1, 2} {
			team := &models.Team{MatchID: match.ID, Number: number}
			if err := p.teamRepo.Create(ctx, exec, team); err != nil {
				return err
			}
		}
		return nil
	}

	if op.Kind != models.OpRemove {
		return results.ErrUnsupportedOp
	}
	round, err := p.resolveRound(ctx, exec, gameID, loc.Round)
	if err != nil {
		return err
	}
	match, err := p.resolveMatch(ctx, exec, round.ID, loc.Match)
	if err != nil {
		return err
	}
	if err := p.matchRepo.Delete(ctx, exec, match.ID); err != nil {
		return err
	}
	return p.matchRepo.ShiftNumbersAfter(ctx, exec, round.ID, match.Number)
}

func (p *relationalProjector) projectSets(ctx context.Context, exec repositories.SQLExecutor, gameID int, loc results.Locator, op models.Operation) error {
	round, err := p.resolveRound(ctx, exec, gameID, loc.Round)
	if err != nil {
		return err
	}
	match, err := p.resolveMatch(ctx, exec, round.ID, loc.Match)
	if err != nil {
		return err
	}

	if op.Kind == models.OpRemove {
		if loc.Set == nil {
			return results.ErrUnsupportedOp
		}
		set, err := p.setRepo.GetByPosition(ctx, exec, match.ID, loc.Set.Index)
		if err != nil {
			return err
		}
		if err := p.setRepo.Delete(ctx, exec, set.ID); err != nil {
			return err
		}
		return p.setRepo.ShiftNumbersAfter(ctx, exec, match.ID, set.Number)
	}

	var score results.Set
	if len(op.Value) == 0 {
		return fmt.Errorf("%w: set score required", results.ErrBadValue)
	}
	if err := json.Unmarshal(op.Value, &score); err != nil {
		return fmt.Errorf("%w: %v", results.ErrBadValue, err)
	}

	if loc.Set != nil {
		existing, err := p.setRepo.GetByPosition(ctx, exec, match.ID, loc.Set.Index)
		if err == nil {
			return p.setRepo.UpdateScores(ctx, exec, existing.ID, score.TeamA, score.TeamB)
		}
		if !errors.Is(err, repositories.ErrSetNotFound) {
			return err
		}
		if op.Kind != models.OpAdd {
			return err
		}
		// Add one past the end appends.
	} else if op.Kind != models.OpAdd {
		return results.ErrUnsupportedOp
	}

	set := &models.GameSet{MatchID: match.ID, TeamAScore: score.TeamA, TeamBScore: score.TeamB}
	return p.setRepo.Create(ctx, exec, set)
}

func (p *relationalProjector) projectTeamPlayers(ctx context.Context, exec repositories.SQLExecutor, gameID int, loc results.Locator, op models.Operation) error {
	round, err := p.resolveRound(ctx, exec, gameID, loc.Round)
	if err != nil {
		return err
	}
	match, err := p.resolveMatch(ctx, exec, round.ID, loc.Match)
	if err != nil {
		return err
	}

	teamNumber := 1
	if loc.Team == results.TeamSlotB {
		teamNumber = 2
	}
	team, err := p.teamRepo.GetByMatchAndNumber(ctx, exec, match.ID, teamNumber)
	if err != nil {
		return err
	}

	switch op.Kind {
	case models.OpAdd:
		userID := loc.PlayerID
		if userID == 0 {
			if len(op.Value) == 0 {
				return fmt.Errorf("%w: player id required", results.ErrBadValue)
			}
			if err := json.Unmarshal(op.Value, &userID); err != nil {
				return fmt.Errorf("%w: %v", results.ErrBadValue, err)
			}
		}
		if userID <= 0 {
			return fmt.Errorf("%w: player id must be positive", results.ErrBadValue)
		}
		return p.teamRepo.UpsertPlayer(ctx, exec, team.ID, userID)
	case models.OpRemove:
		if loc.PlayerID == 0 {
			return results.ErrUnsupportedOp
		}
		return p.teamRepo.RemovePlayer(ctx, exec, team.ID, loc.PlayerID)
	default:
		return results.ErrUnsupportedOp
	}
}

func (p *relationalProjector) resolveRound(ctx context.Context, exec repositories.SQLExecutor, gameID int, ref *results.ElemRef) (*models.Round, error) {
	if ref == nil {
		return nil, repositories.ErrRoundNotFound
	}
	if ref.ByID {
		round, err := p.roundRepo.GetByID(ctx, exec, ref.ID)
		if err != nil {
			return nil, err
		}
		if round.GameID != gameID {
			return nil, repositories.ErrRoundNotFound
		}
		return round, nil
	}
	return p.roundRepo.GetByPosition(ctx, exec, gameID, ref.Index)
}

func (p *relationalProjector) resolveMatch(ctx context.Context, exec repositories.SQLExecutor, roundID int, ref *results.ElemRef) (*models.GameMatch, error) {
	if ref == nil {
		return nil, repositories.ErrMatchNotFound
	}
	if ref.ByID {
		match, err := p.matchRepo.GetByID(ctx, exec, ref.ID)
		if err != nil {
			return nil, err
		}
		if match.RoundID != roundID {
			return nil, repositories.ErrMatchNotFound
		}
		return match, nil
	}
	return p.matchRepo.GetByPosition(ctx, exec, roundID, ref.Index)
}
