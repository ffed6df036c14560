package services

import (
	"time"

	"github.com/matchpoint-app/results-engine/models"
)

// recomputeGameStatus derives the externally visible lifecycle status of a
// game from its schedule and the state of its results subtree. Canceled games
// are never resurrected by a results edit.
func recomputeGameStatus(current models.GameStatus, now, start, end time.Time, resultsStatus models.ResultsStatus) models.GameStatus {
	if current == models.GameStatusCanceled {
		return current
	}
	if resultsStatus == models.ResultsStatusInProgress {
		return models.GameStatusInProgress
	}
	switch {
	case now.Before(start):
		return models.GameStatusScheduled
	case now.After(end):
		return models.GameStatusCompleted
	default:
		return models.GameStatusInProgress
	}
}
