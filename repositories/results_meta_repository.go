package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matchpoint-app/results-engine/models"
)

var ErrResultsMetaNotFound = errors.New("results meta not found")

type ResultsMetaRepository interface {
	// Get loads the meta row without locking; a game that was never edited
	// reads as version 0 with empty ledgers.
	Get(ctx context.Context, exec SQLExecutor, gameID int) (*models.ResultsMeta, error)
	// GetForUpdate loads the game's meta row under a row lock, creating the
	// version-0 row on first touch. Callers must hold an open transaction.
	GetForUpdate(ctx context.Context, exec SQLExecutor, gameID int) (*models.ResultsMeta, error)
	Save(ctx context.Context, exec SQLExecutor, meta *models.ResultsMeta) error
}

type postgresResultsMetaRepository struct{}

func NewPostgresResultsMetaRepository() ResultsMetaRepository {
	return &postgresResultsMetaRepository{}
}

func (r *postgresResultsMetaRepository) Get(ctx context.Context, exec SQLExecutor, gameID int) (*models.ResultsMeta, error) {
	query := `
		SELECT game_id, version, last_batch_id, last_batch_time, processed_op_ids, path_versions
		FROM game_results_meta
		WHERE game_id = $1`

	meta := &models.ResultsMeta{}
	var processedRaw, pathsRaw []byte
	err := exec.QueryRowContext(ctx, query, gameID).Scan(
		&meta.GameID,
		&meta.Version,
		&meta.LastBatchID,
		&meta.LastBatchTime,
		&processedRaw,
		&pathsRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ResultsMeta{
				GameID:         gameID,
				ProcessedOpIDs: []string{},
				PathVersions:   map[string]int{},
			}, nil
		}
		return nil, fmt.Errorf("failed to scan results meta for game %d: %w", gameID, err)
	}

	if err := json.Unmarshal(processedRaw, &meta.ProcessedOpIDs); err != nil {
		return nil, fmt.Errorf("failed to decode processed op ids for game %d: %w", gameID, err)
	}
	if err := json.Unmarshal(pathsRaw, &meta.PathVersions); err != nil {
		return nil, fmt.Errorf("failed to decode path versions for game %d: %w", gameID, err)
	}
	if meta.ProcessedOpIDs == nil {
		meta.ProcessedOpIDs = []string{}
	}
	if meta.PathVersions == nil {
		meta.PathVersions = map[string]int{}
	}
	return meta, nil
}

func (r *postgresResultsMetaRepository) GetForUpdate(ctx context.Context, exec SQLExecutor, gameID int) (*models.ResultsMeta, error) {
	insert := `
		INSERT INTO game_results_meta (game_id, version, processed_op_ids, path_versions)
		VALUES ($1, 0, '[]'::jsonb, '{}'::jsonb)
		ON CONFLICT (game_id) DO NOTHING`

	if _, err := exec.ExecContext(ctx, insert, gameID); err != nil {
		return nil, fmt.Errorf("failed to ensure results meta for game %d: %w", gameID, err)
	}

	query := `
		SELECT game_id, version, last_batch_id, last_batch_time, processed_op_ids, path_versions
		FROM game_results_meta
		WHERE game_id = $1
		FOR UPDATE`

	meta := &models.ResultsMeta{}
	var processedRaw, pathsRaw []byte
	err := exec.QueryRowContext(ctx, query, gameID).Scan(
		&meta.GameID,
		&meta.Version,
		&meta.LastBatchID,
		&meta.LastBatchTime,
		&processedRaw,
		&pathsRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultsMetaNotFound
		}
		return nil, fmt.Errorf("failed to scan results meta for game %d: %w", gameID, err)
	}

	if err := json.Unmarshal(processedRaw, &meta.ProcessedOpIDs); err != nil {
		return nil, fmt.Errorf("failed to decode processed op ids for game %d: %w", gameID, err)
	}
	if err := json.Unmarshal(pathsRaw, &meta.PathVersions); err != nil {
		return nil, fmt.Errorf("failed to decode path versions for game %d: %w", gameID, err)
	}
	if meta.ProcessedOpIDs == nil {
		meta.ProcessedOpIDs = []string{}
	}
	if meta.PathVersions == nil {
		meta.PathVersions = map[string]int{}
	}
	return meta, nil
}

func (r *postgresResultsMetaRepository) Save(ctx context.Context, exec SQLExecutor, meta *models.ResultsMeta) error {
	processedRaw, err := json.Marshal(meta.ProcessedOpIDs)
	if err != nil {
		return fmt.Errorf("failed to encode processed op ids: %w", err)
	}
	pathsRaw, err := json.Marshal(meta.PathVersions)
	if err != nil {
		return fmt.Errorf("failed to encode path versions: %w", err)
	}

	query := `
		UPDATE game_results_meta
		SET version = $1,
		    last_batch_id = $2,
		    last_batch_time = $3,
		    processed_op_ids = $4,
		    path_versions = $5
		WHERE game_id = $6`

	result, err := exec.ExecContext(ctx, query,
		meta.Version, meta.LastBatchID, meta.LastBatchTime, processedRaw, pathsRaw, meta.GameID)
	if err != nil {
		return fmt.Errorf("failed to save results meta for game %d: %w", meta.GameID, err)
	}
	return checkAffectedRows(result, ErrResultsMetaNotFound)
}
