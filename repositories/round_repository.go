package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/matchpoint-app/results-engine/models"
)

var (
	ErrRoundNotFound    = errors.New("round not found")
	ErrRoundGameInvalid = errors.New("round game conflict or invalid")
)

type RoundRepository interface {
	// Create appends the round at the end of the game's order: round_number is
	// assigned count+1 atomically in the insert.
	Create(ctx context.Context, exec SQLExecutor, round *models.Round) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Round, error)
	// GetByPosition resolves a 0-based position against the current order.
	GetByPosition(ctx context.Context, exec SQLExecutor, gameID, position int) (*models.Round, error)
	ListByGame(ctx context.Context, exec SQLExecutor, gameID int) ([]*models.Round, error)
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	// ShiftNumbersAfter closes the ordinal gap left by a delete.
	ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, gameID, number int) error
	DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error
}

type postgresRoundRepository struct{}

func NewPostgresRoundRepository() RoundRepository {
	return &postgresRoundRepository{}
}

func (r *postgresRoundRepository) Create(ctx context.Context, exec SQLExecutor, round *models.Round) error {
	query := `
		INSERT INTO rounds (game_id, round_number, status)
		VALUES ($1, (SELECT COUNT(*) + 1 FROM rounds WHERE game_id = $1), $2)
		RETURNING id, round_number, created_at`

	err := exec.QueryRowContext(ctx, query, round.GameID, round.Status).
		Scan(&round.ID, &round.Number, &round.CreatedAt)
	return r.handleRoundError(err)
}

func (r *postgresRoundRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Round, error) {
	query := `
		SELECT id, game_id, round_number, status, created_at
		FROM rounds
		WHERE id = $1`

	round := &models.Round{}
	err := exec.QueryRowContext(ctx, query, id).
		Scan(&round.ID, &round.GameID, &round.Number, &round.Status, &round.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to scan round by id %d: %w", id, err)
	}
	return round, nil
}

func (r *postgresRoundRepository) GetByPosition(ctx context.Context, exec SQLExecutor, gameID, position int) (*models.Round, error) {
	// Positional addressing resolves against the order at the moment of
	// application, never against positions cached earlier in the batch.
	query := `
		SELECT id, game_id, round_number, status, created_at
		FROM rounds
		WHERE game_id = $1
		ORDER BY round_number ASC
		OFFSET $2 LIMIT 1`

	round := &models.Round{}
	err := exec.QueryRowContext(ctx, query, gameID, position).
		Scan(&round.ID, &round.GameID, &round.Number, &round.Status, &round.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to scan round at position %d for game %d: %w", position, gameID, err)
	}
	return round, nil
}

func (r *postgresRoundRepository) ListByGame(ctx context.Context, exec SQLExecutor, gameID int) ([]*models.Round, error) {
	query := `
		SELECT id, game_id, round_number, status, created_at
		FROM rounds
		WHERE game_id = $1
		ORDER BY round_number ASC`

	rows, err := exec.QueryContext(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds for game %d: %w", gameID, err)
	}
	defer rows.Close()

	rounds := make([]*models.Round, 0)
	for rows.Next() {
		var round models.Round
		if scanErr := rows.Scan(&round.ID, &round.GameID, &round.Number, &round.Status, &round.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan round row: %w", scanErr)
		}
		rounds = append(rounds, &round)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during round rows iteration: %w", err)
	}
	return rounds, nil
}

func (r *postgresRoundRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM rounds WHERE id = $1`, id)
	if err != nil {
		return r.handleRoundError(err)
	}
	return checkAffectedRows(result, ErrRoundNotFound)
}

func (r *postgresRoundRepository) ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, gameID, number int) error {
	query := `
		UPDATE rounds
		SET round_number = round_number - 1
		WHERE game_id = $1 AND round_number > $2`

	if _, err := exec.ExecContext(ctx, query, gameID, number); err != nil {
		return fmt.Errorf("failed to shift round numbers for game %d after %d: %w", gameID, number, err)
	}
	return nil
}

func (r *postgresRoundRepository) DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	if _, err := exec.ExecContext(ctx, `DELETE FROM rounds WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to delete rounds for game %d: %w", gameID, err)
	}
	return nil
}

func (r *postgresRoundRepository) handleRoundError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "rounds_game_id_fkey":
			return ErrRoundGameInvalid
		}
	}
	return err
}
