package models

import "time"

// GroupStats summarises the entries of one group (e.g. for the stats table and /api/groups).
type GroupStats struct {
	Name        string     `json:"name"`
	Total       int        `json:"total"`
	Active      int        `json:"active"`
	Dead        int        `json:"dead"`
	Unchecked   int        `json:"unchecked"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}
