package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matchpoint-app/results-engine/models"
)

var ErrGameNotFound = errors.New("game not found")

type GameRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Game, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.GameStatus, resultsStatus models.ResultsStatus) error
	IsParticipant(ctx context.Context, exec SQLExecutor, gameID, userID int) (bool, error)
}

type postgresGameRepository struct{}

func NewPostgresGameRepository() GameRepository {
	return &postgresGameRepository{}
}

func (r *postgresGameRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Game, error) {
	query := `
		SELECT id, creator_id, start_time, end_time, status, results_status, anyone_can_edit, created_at
		FROM games
		WHERE id = $1`

	game := &models.Game{}
	err := exec.QueryRowContext(ctx, query, id).Scan(
		&game.ID,
		&game.CreatorID,
		&game.StartTime,
		&game.EndTime,
		&game.Status,
		&game.ResultsStatus,
		&game.AnyoneCanEdit,
		&game.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to scan game by id %d: %w", id, err)
	}
	return game, nil
}

func (r *postgresGameRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.GameStatus, resultsStatus models.ResultsStatus) error {
	query := `
		UPDATE games
		SET status = $1, results_status = $2
		WHERE id = $3`

	result, err := exec.ExecContext(ctx, query, status, resultsStatus, id)
	if err != nil {
		return fmt.Errorf("failed to update status for game %d: %w", id, err)
	}
	return checkAffectedRows(result, ErrGameNotFound)
}

func (r *postgresGameRepository) IsParticipant(ctx context.Context, exec SQLExecutor, gameID, userID int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM game_participants
			WHERE game_id = $1 AND user_id = $2
		)`

	var exists bool
	if err := exec.QueryRowContext(ctx, query, gameID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant %d of game %d: %w", userID, gameID, err)
	}
	return exists, nil
}
