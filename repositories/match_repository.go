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
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchRoundInvalid = errors.New("match round conflict or invalid")
)

type MatchRepository interface {
	// Create appends the match at the end of the round's order.
	Create(ctx context.Context, exec SQLExecutor, match *models.GameMatch) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.GameMatch, error)
	GetByPosition(ctx context.Context, exec SQLExecutor, roundID, position int) (*models.GameMatch, error)
	ListByRound(ctx context.Context, exec SQLExecutor, roundID int) ([]*models.GameMatch, error)
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, roundID, number int) error
	DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error
}

type postgresMatchRepository struct{}

func NewPostgresMatchRepository() MatchRepository {
	return &postgresMatchRepository{}
}

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.GameMatch) error {
	query := `
		INSERT INTO game_matches (round_id, match_number)
		VALUES ($1, (SELECT COUNT(*) + 1 FROM game_matches WHERE round_id = $1))
		RETURNING id, match_number, created_at`

	err := exec.QueryRowContext(ctx, query, match.RoundID).
		Scan(&match.ID, &match.Number, &match.CreatedAt)
	return r.handleMatchError(err)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.GameMatch, error) {
	query := `
		SELECT id, round_id, match_number, created_at
		FROM game_matches
		WHERE id = $1`

	match := &models.GameMatch{}
	err := exec.QueryRowContext(ctx, query, id).
		Scan(&match.ID, &match.RoundID, &match.Number, &match.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) GetByPosition(ctx context.Context, exec SQLExecutor, roundID, position int) (*models.GameMatch, error) {
	query := `
		SELECT id, round_id, match_number, created_at
		FROM game_matches
		WHERE round_id = $1
		ORDER BY match_number ASC
		OFFSET $2 LIMIT 1`

	match := &models.GameMatch{}
	err := exec.QueryRowContext(ctx, query, roundID, position).
		Scan(&match.ID, &match.RoundID, &match.Number, &match.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match at position %d for round %d: %w", position, roundID, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByRound(ctx context.Context, exec SQLExecutor, roundID int) ([]*models.GameMatch, error) {
	query := `
		SELECT id, round_id, match_number, created_at
		FROM game_matches
		WHERE round_id = $1
		ORDER BY match_number ASC`

	rows, err := exec.QueryContext(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for round %d: %w", roundID, err)
	}
	defer rows.Close()

	matches := make([]*models.GameMatch, 0)
	for rows.Next() {
		var match models.GameMatch
		if scanErr := rows.Scan(&match.ID, &match.RoundID, &match.Number, &match.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, &match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM game_matches WHERE id = $1`, id)
	if err != nil {
		return r.handleMatchError(err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}

func (r *postgresMatchRepository) ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, roundID, number int) error {
	query := `
		UPDATE game_matches
		SET match_number = match_number - 1
		WHERE round_id = $1 AND match_number > $2`

	if _, err := exec.ExecContext(ctx, query, roundID, number); err != nil {
		return fmt.Errorf("failed to shift match numbers for round %d after %d: %w", roundID, number, err)
	}
	return nil
}

func (r *postgresMatchRepository) DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	query := `
		DELETE FROM game_matches
		WHERE round_id IN (SELECT id FROM rounds WHERE game_id = $1)`

	if _, err := exec.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("failed to delete matches for game %d: %w", gameID, err)
	}
	return nil
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "game_matches_round_id_fkey":
			return ErrMatchRoundInvalid
		}
	}
	return err
}
