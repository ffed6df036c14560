package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchpoint-app/results-engine/repositories"
)

// RatingReverter undoes the rating side effects a game applied to its players.
// It is invoked only by the batch processor, inside its transaction, when a
// batch carries the /reset sentinel.
type RatingReverter interface {
	RevertGameOutcomes(ctx context.Context, exec repositories.SQLExecutor, gameID int) error
}

type ratingService struct {
	outcomeRepo repositories.OutcomeRepository
	userRepo    repositories.UserRepository
	logger      *slog.Logger
}

func NewRatingService(
	outcomeRepo repositories.OutcomeRepository,
	userRepo repositories.UserRepository,
	logger *slog.Logger,
) RatingReverter {
	return &ratingService{
		outcomeRepo: outcomeRepo,
		userRepo:    userRepo,
		logger:      logger,
	}
}

func (s *ratingService) RevertGameOutcomes(ctx context.Context, exec repositories.SQLExecutor, gameID int) error {
	outcomes, err := s.outcomeRepo.ListByGame(ctx, exec, gameID)
	if err != nil {
		return fmt.Errorf("failed to list outcomes for game %d: %w", gameID, err)
	}
	if len(outcomes) == 0 {
		return nil
	}

	for _, outcome := range outcomes {
		if err := s.userRepo.RevertOutcome(ctx, exec, outcome); err != nil {
			return fmt.Errorf("failed to revert outcome %d: %w", outcome.ID, err)
		}
	}
	if err := s.outcomeRepo.DeleteAllByGame(ctx, exec, gameID); err != nil {
		return fmt.Errorf("failed to delete outcomes for game %d: %w", gameID, err)
	}

	s.logger.Info("reverted game outcomes",
		slog.Int("game_id", gameID),
		slog.Int("outcomes", len(outcomes)))
	return nil
}
