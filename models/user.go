package models

import "time"

type User struct {
	ID          int       `json:"id"`
	Nickname    string    `json:"nickname"`
	Rating      float64   `json:"rating"`
	Reliability float64   `json:"reliability"`
	Points      int       `json:"points"`
	GamesPlayed int       `json:"games_played"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}
