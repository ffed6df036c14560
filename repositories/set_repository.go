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
	ErrSetNotFound     = errors.New("set not found")
	ErrSetMatchInvalid = errors.New("set match conflict or invalid")
)

type SetRepository interface {
	Create(ctx context.Context, exec SQLExecutor, set *models.GameSet) error
	GetByPosition(ctx context.Context, exec SQLExecutor, matchID, position int) (*models.GameSet, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.GameSet, error)
	UpdateScores(ctx context.Context, exec SQLExecutor, id, teamAScore, teamBScore int) error
	Delete(ctx context.Context, exec SQLExecutor, id int) error
	ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, matchID, number int) error
	DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error
}

type postgresSetRepository struct{}

func NewPostgresSetRepository() SetRepository {
	return &postgresSetRepository{}
}

func (r *postgresSetRepository) Create(ctx context.Context, exec SQLExecutor, set *models.GameSet) error {
	query := `
		INSERT INTO match_sets (match_id, set_number, team_a_score, team_b_score)
		VALUES ($1, (SELECT COUNT(*) + 1 FROM match_sets WHERE match_id = $1), $2, $3)
		RETURNING id, set_number`

	err := exec.QueryRowContext(ctx, query, set.MatchID, set.TeamAScore, set.TeamBScore).
		Scan(&set.ID, &set.Number)
	return r.handleSetError(err)
}

func (r *postgresSetRepository) GetByPosition(ctx context.Context, exec SQLExecutor, matchID, position int) (*models.GameSet, error) {
	query := `
		SELECT id, match_id, set_number, team_a_score, team_b_score
		FROM match_sets
		WHERE match_id = $1
		ORDER BY set_number ASC
		OFFSET $2 LIMIT 1`

	set := &models.GameSet{}
	err := exec.QueryRowContext(ctx, query, matchID, position).
		Scan(&set.ID, &set.MatchID, &set.Number, &set.TeamAScore, &set.TeamBScore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSetNotFound
		}
		return nil, fmt.Errorf("failed to scan set at position %d for match %d: %w", position, matchID, err)
	}
	return set, nil
}

func (r *postgresSetRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.GameSet, error) {
	query := `
		SELECT id, match_id, set_number, team_a_score, team_b_score
		FROM match_sets
		WHERE match_id = $1
		ORDER BY set_number ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sets for match %d: %w", matchID, err)
	}
	defer rows.Close()

	sets := make([]*models.GameSet, 0)
	for rows.Next() {
		var set models.GameSet
		if scanErr := rows.Scan(&set.ID, &set.MatchID, &set.Number, &set.TeamAScore, &set.TeamBScore); scanErr != nil {
			return nil, fmt.Errorf("failed to scan set row: %w", scanErr)
		}
		sets = append(sets, &set)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during set rows iteration: %w", err)
	}
	return sets, nil
}

func (r *postgresSetRepository) UpdateScores(ctx context.Context, exec SQLExecutor, id, teamAScore, teamBScore int) error {
	query := `
		UPDATE match_sets
		SET team_a_score = $1, team_b_score = $2
		WHERE id = $3`

	result, err := exec.ExecContext(ctx, query, teamAScore, teamBScore, id)
	if err != nil {
		return r.handleSetError(err)
	}
	return checkAffectedRows(result, ErrSetNotFound)
}

func (r *postgresSetRepository) Delete(ctx context.Context, exec SQLExecutor, id int) error {
	result, err := exec.ExecContext(ctx, `DELETE FROM match_sets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrSetNotFound)
}

func (r *postgresSetRepository) ShiftNumbersAfter(ctx context.Context, exec SQLExecutor, matchID, number int) error {
	query := `
		UPDATE match_sets
		SET set_number = set_number - 1
		WHERE match_id = $1 AND set_number > $2`

	if _, err := exec.ExecContext(ctx, query, matchID, number); err != nil {
		return fmt.Errorf("failed to shift set numbers for match %d after %d: %w", matchID, number, err)
	}
	return nil
}

func (r *postgresSetRepository) DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	query := `
		DELETE FROM match_sets
		WHERE match_id IN (
			SELECT m.id
			FROM game_matches m
			JOIN rounds r ON r.id = m.round_id
			WHERE r.game_id = $1
		)`

	if _, err := exec.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("failed to delete sets for game %d: %w", gameID, err)
	}
	return nil
}

func (r *postgresSetRepository) handleSetError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "match_sets_match_id_fkey":
			return ErrSetMatchInvalid
		}
	}
	return err
}
