package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/matchpoint-app/results-engine/models"
)

func TestRecomputeGameStatus(t *testing.T) {
	now := time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	tests := []struct {
		name          string
		current       models.GameStatus
		start, end    time.Time
		resultsStatus models.ResultsStatus
		want          models.GameStatus
	}{
		{
			name:          "canceled stays canceled",
			current:       models.GameStatusCanceled,
			start:         before,
			end:           after,
			resultsStatus: models.ResultsStatusInProgress,
			want:          models.GameStatusCanceled,
		},
		{
			name:          "results editing forces in progress",
			current:       models.GameStatusCompleted,
			start:         before.Add(-time.Hour),
			end:           before,
			resultsStatus: models.ResultsStatusInProgress,
			want:          models.GameStatusInProgress,
		},
		{
			name:          "before start is scheduled",
			current:       models.GameStatusScheduled,
			start:         after,
			end:           after.Add(time.Hour),
			resultsStatus: models.ResultsStatusNone,
			want:          models.GameStatusScheduled,
		},
		{
			name:          "after end is completed",
			current:       models.GameStatusInProgress,
			start:         before.Add(-time.Hour),
			end:           before,
			resultsStatus: models.ResultsStatusNone,
			want:          models.GameStatusCompleted,
		},
		{
			name:          "within window is in progress",
			current:       models.GameStatusScheduled,
			start:         before,
			end:           after,
			resultsStatus: models.ResultsStatusNone,
			want:          models.GameStatusInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recomputeGameStatus(tt.current, now, tt.start, tt.end, tt.resultsStatus)
			assert.Equal(t, tt.want, got)
		})
	}
}
