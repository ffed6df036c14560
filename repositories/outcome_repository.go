package repositories

import (
	"context"
	"fmt"

	"github.com/matchpoint-app/results-engine/models"
)

type OutcomeRepository interface {
	ListByGame(ctx context.Context, exec SQLExecutor, gameID int) ([]*models.GameOutcome, error)
	DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error
}

type postgresOutcomeRepository struct{}

func NewPostgresOutcomeRepository() OutcomeRepository {
	return &postgresOutcomeRepository{}
}

func (r *postgresOutcomeRepository) ListByGame(ctx context.Context, exec SQLExecutor, gameID int) ([]*models.GameOutcome, error) {
	query := `
		SELECT id, game_id, user_id,
		       rating_before, rating_after,
		       reliability_before, reliability_after,
		       points_before, points_after
		FROM game_outcomes
		WHERE game_id = $1
		ORDER BY id ASC`

	rows, err := exec.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes for game %d: %w", gameID, err)
	}
	defer rows.Close()

	outcomes := make([]*models.GameOutcome, 0)
	for rows.Next() {
		var o models.GameOutcome
		if scanErr := rows.Scan(
			&o.ID, &o.GameID, &o.UserID,
			&o.RatingBefore, &o.RatingAfter,
			&o.ReliabilityBefore, &o.ReliabilityAfter,
			&o.PointsBefore, &o.PointsAfter,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", scanErr)
		}
		outcomes = append(outcomes, &o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during outcome rows iteration: %w", err)
	}
	return outcomes, nil
}

func (r *postgresOutcomeRepository) DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM game_outcomes WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to delete outcomes for game %d: %w", gameID, err)
	}
	return nil
}
