package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/matchpoint-app/results-engine/results"
)

const archiveTimeout = 15 * time.Second

// SnapshotArchiver persists a JSON snapshot of the results document to object
// storage after every committed batch. Snapshots are keyed by game and head
// version so older snapshots stay addressable.
type SnapshotArchiver struct {
	uploader ObjectUploader
	logger   *slog.Logger
}

func NewSnapshotArchiver(uploader ObjectUploader, logger *slog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{uploader: uploader, logger: logger}
}

func snapshotKey(gameID, version int) string {
	return fmt.Sprintf("results/games/%d/v%d.json", gameID, version)
}

type snapshotEnvelope struct {
	GameID      int              `json:"game_id"`
	HeadVersion int              `json:"head_version"`
	ArchivedAt  time.Time        `json:"archived_at"`
	Document    results.Document `json:"document"`
}

// ArchiveSnapshot uploads the document as it stood at the given head version.
// Failures are logged and swallowed: archival must never affect the edit path.
func (a *SnapshotArchiver) ArchiveSnapshot(ctx context.Context, gameID, version int, doc results.Document) {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	payload, err := json.Marshal(snapshotEnvelope{
		GameID:      gameID,
		HeadVersion: version,
		ArchivedAt:  time.Now().UTC(),
		Document:    doc,
	})
	if err != nil {
		a.logger.Error("failed to marshal results snapshot",
			slog.Int("game_id", gameID),
			slog.Any("error", err))
		return
	}

	key := snapshotKey(gameID, version)
	res, err := a.uploader.Upload(ctx, key, "application/json", bytes.NewReader(payload))
	if err != nil {
		a.logger.Error("failed to archive results snapshot",
			slog.Int("game_id", gameID),
			slog.String("key", key),
			slog.Any("error", err))
		return
	}
	a.logger.Info("archived results snapshot",
		slog.Int("game_id", gameID),
		slog.Int("head_version", version),
		slog.String("location", res.Location))
}
