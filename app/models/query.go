package models

import (
	"database/sql"
	"time"
)

// DefaultQuestion is recorded when a caller charges a query without text.
const DefaultQuestion = "Data analysis query"

// Query is an append-only record of a question an account asked.
type Query struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Question  string         `db:"question"`
	DataInfo  sql.NullString `db:"data_info"`
	CreatedAt time.Time      `db:"created_at"`
}
