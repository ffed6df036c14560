package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matchpoint-app/results-engine/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.User, error)
	// RevertOutcome restores the pre-game rating fields recorded in the
	// outcome and decrements the play counter.
	RevertOutcome(ctx context.Context, exec SQLExecutor, outcome *models.GameOutcome) error
}

type postgresUserRepository struct{}

func NewPostgresUserRepository() UserRepository {
	return &postgresUserRepository{}
}

func (r *postgresUserRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.User, error) {
	query := `
		SELECT id, nickname, rating, reliability, points, games_played, is_admin, created_at
		FROM users
		WHERE id = $1`

	user := &models.User{}
	err := exec.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Nickname,
		&user.Rating,
		&user.Reliability,
		&user.Points,
		&user.GamesPlayed,
		&user.IsAdmin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user by id %d: %w", id, err)
	}
	return user, nil
}

func (r *postgresUserRepository) RevertOutcome(ctx context.Context, exec SQLExecutor, outcome *models.GameOutcome) error {
	query := `
		UPDATE users
		SET rating = $1,
		    reliability = $2,
		    points = $3,
		    games_played = GREATEST(games_played - 1, 0)
		WHERE id = $4`

	result, err := exec.ExecContext(ctx, query,
		outcome.RatingBefore, outcome.ReliabilityBefore, outcome.PointsBefore, outcome.UserID)
	if err != nil {
		return fmt.Errorf("failed to revert outcome for user %d: %w", outcome.UserID, err)
	}
	return checkAffectedRows(result, ErrUserNotFound)
}
