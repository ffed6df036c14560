package models

import "time"

type RoundStatus string

const (
	RoundStatusInProgress RoundStatus = "in_progress"
	RoundStatusCompleted  RoundStatus = "completed"
)

// Round, GameMatch, Team, TeamPlayer and GameSet are the relational projection
// of the results document. The *Number fields are 1-based ordinals and must
// stay densely numbered after every committed batch.

type Round struct {
	ID        int         `json:"id"`
	GameID    int         `json:"game_id"`
	Number    int         `json:"round_number"`
	Status    RoundStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type GameMatch struct {
	ID        int       `json:"id"`
	RoundID   int       `json:"round_id"`
	Number    int       `json:"match_number"`
	CreatedAt time.Time `json:"created_at"`
}

type Team struct {
	ID      int `json:"id"`
	MatchID int `json:"match_id"`
	Number  int `json:"team_number"` // 1 or 2
}

type TeamPlayer struct {
	TeamID int `json:"team_id"`
	UserID int `json:"user_id"`
}

type GameSet struct {
	ID         int `json:"id"`
	MatchID    int `json:"match_id"`
	Number     int `json:"set_number"`
	TeamAScore int `json:"team_a_score"`
	TeamBScore int `json:"team_b_score"`
}

// ResultsMeta is the per-game optimistic-concurrency counter and durable
// idempotency ledger. It is mutated only inside the batch transaction.
type ResultsMeta struct {
	GameID         int            `json:"game_id"`
	Version        int            `json:"version"`
	LastBatchID    *string        `json:"last_batch_id,omitempty"`
	LastBatchTime  *time.Time     `json:"last_batch_time,omitempty"`
	ProcessedOpIDs []string       `json:"processed_op_ids"`
	PathVersions   map[string]int `json:"path_versions"`
}

// Processed reports whether the op id is already in the durable ledger.
func (m *ResultsMeta) Processed(opID string) bool {
	for _, id := range m.ProcessedOpIDs {
		if id == opID {
			return true
		}
	}
	return false
}
