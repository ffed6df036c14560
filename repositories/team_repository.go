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
	ErrTeamNotFound       = errors.New("team not found")
	ErrTeamPlayerNotFound = errors.New("team player not found")
	ErrTeamPlayerInvalid  = errors.New("team player conflict or invalid")
)

type TeamRepository interface {
	Create(ctx context.Context, exec SQLExecutor, team *models.Team) error
	GetByMatchAndNumber(ctx context.Context, exec SQLExecutor, matchID, number int) (*models.Team, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Team, error)
	ListPlayers(ctx context.Context, exec SQLExecutor, teamID int) ([]int, error)
	// UpsertPlayer adds the player to the team; adding twice keeps one row.
	UpsertPlayer(ctx context.Context, exec SQLExecutor, teamID, userID int) error
	RemovePlayer(ctx context.Context, exec SQLExecutor, teamID, userID int) error
	DeletePlayersByGame(ctx context.Context, exec SQLExecutor, gameID int) error
	DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error
}

type postgresTeamRepository struct{}

func NewPostgresTeamRepository() TeamRepository {
	return &postgresTeamRepository{}
}

func (r *postgresTeamRepository) Create(ctx context.Context, exec SQLExecutor, team *models.Team) error {
	query := `
		INSERT INTO match_teams (match_id, team_number)
		VALUES ($1, $2)
		RETURNING id`

	err := exec.QueryRowContext(ctx, query, team.MatchID, team.Number).Scan(&team.ID)
	return r.handleTeamError(err)
}

func (r *postgresTeamRepository) GetByMatchAndNumber(ctx context.Context, exec SQLExecutor, matchID, number int) (*models.Team, error) {
	query := `
		SELECT id, match_id, team_number
		FROM match_teams
		WHERE match_id = $1 AND team_number = $2`

	team := &models.Team{}
	err := exec.QueryRowContext(ctx, query, matchID, number).
		Scan(&team.ID, &team.MatchID, &team.Number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to scan team %d of match %d: %w", number, matchID, err)
	}
	return team, nil
}

func (r *postgresTeamRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.Team, error) {
	query := `
		SELECT id, match_id, team_number
		FROM match_teams
		WHERE match_id = $1
		ORDER BY team_number ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query teams for match %d: %w", matchID, err)
	}
	defer rows.Close()

	teams := make([]*models.Team, 0, 2)
	for rows.Next() {
		var team models.Team
		if scanErr := rows.Scan(&team.ID, &team.MatchID, &team.Number); scanErr != nil {
			return nil, fmt.Errorf("failed to scan team row: %w", scanErr)
		}
		teams = append(teams, &team)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during team rows iteration: %w", err)
	}
	return teams, nil
}

func (r *postgresTeamRepository) ListPlayers(ctx context.Context, exec SQLExecutor, teamID int) ([]int, error) {
	query := `
		SELECT user_id
		FROM match_team_players
		WHERE team_id = $1
		ORDER BY user_id ASC`

	rows, err := exec.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query players for team %d: %w", teamID, err)
	}
	defer rows.Close()

	players := make([]int, 0)
	for rows.Next() {
		var userID int
		if scanErr := rows.Scan(&userID); scanErr != nil {
			return nil, fmt.Errorf("failed to scan team player row: %w", scanErr)
		}
		players = append(players, userID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during team player rows iteration: %w", err)
	}
	return players, nil
}

func (r *postgresTeamRepository) UpsertPlayer(ctx context.Context, exec SQLExecutor, teamID, userID int) error {
	query := `
		INSERT INTO match_team_players (team_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (team_id, user_id) DO NOTHING`

	if _, err := exec.ExecContext(ctx, query, teamID, userID); err != nil {
		return r.handleTeamError(err)
	}
	return nil
}

func (r *postgresTeamRepository) RemovePlayer(ctx context.Context, exec SQLExecutor, teamID, userID int) error {
	result, err := exec.ExecContext(ctx,
		`DELETE FROM match_team_players WHERE team_id = $1 AND user_id = $2`, teamID, userID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrTeamPlayerNotFound)
}

func (r *postgresTeamRepository) DeletePlayersByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	query := `
		DELETE FROM match_team_players
		WHERE team_id IN (
			SELECT t.id
			FROM match_teams t
			JOIN game_matches m ON m.id = t.match_id
			JOIN rounds r ON r.id = m.round_id
			WHERE r.game_id = $1
		)`

	if _, err := exec.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("failed to delete team players for game %d: %w", gameID, err)
	}
	return nil
}

func (r *postgresTeamRepository) DeleteAllByGame(ctx context.Context, exec SQLExecutor, gameID int) error {
	query := `
		DELETE FROM match_teams
		WHERE match_id IN (
			SELECT m.id
			FROM game_matches m
			JOIN rounds r ON r.id = m.round_id
			WHERE r.game_id = $1
		)`

	if _, err := exec.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("failed to delete teams for game %d: %w", gameID, err)
	}
	return nil
}

func (r *postgresTeamRepository) handleTeamError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "match_teams_match_id_fkey":
			return ErrMatchNotFound
		case "match_team_players_team_id_fkey", "match_team_players_user_id_fkey":
			return ErrTeamPlayerInvalid
		}
	}
	return err
}
