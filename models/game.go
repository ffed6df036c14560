package models

import "time"

type GameStatus string

const (
	GameStatusScheduled  GameStatus = "scheduled"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusCompleted  GameStatus = "completed"
	GameStatusCanceled   GameStatus = "canceled"
)

type ResultsStatus string

const (
	ResultsStatusNone       ResultsStatus = "none"
	ResultsStatusInProgress ResultsStatus = "in_progress"
)

type Game struct {
	ID            int           `json:"id"`
	CreatorID     int           `json:"creator_id"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Status        GameStatus    `json:"status"`
	ResultsStatus ResultsStatus `json:"results_status"`
	AnyoneCanEdit bool          `json:"anyone_can_edit"`
	CreatedAt     time.Time     `json:"created_at"`
}

// GameOutcome records the rating side effects a finished game applied to one
// player, keeping the pre-game values so a results reset can revert them.
type GameOutcome struct {
	ID                int     `json:"id"`
	GameID            int     `json:"game_id"`
	UserID            int     `json:"user_id"`
	RatingBefore      float64 `json:"rating_before"`
	RatingAfter       float64 `json:"rating_after"`
	ReliabilityBefore float64 `json:"reliability_before"`
	ReliabilityAfter  float64 `json:"reliability_after"`
	PointsBefore      int     `json:"points_before"`
	PointsAfter       int     `json:"points_after"`
}
