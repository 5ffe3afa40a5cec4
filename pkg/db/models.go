package db

import "time"

// SharedSchema represents a row in the shared_schemas table.
type SharedSchema struct {
	ID       string                 `json:"id"`
	Version  string                 `json:"version"`
	Status   string                 `json:"status"`
	Schema   map[string]interface{} `json:"schema"`
	Created  time.Time              `json:"created"`
	Modified time.Time              `json:"modified"`
}
