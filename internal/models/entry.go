package models

import "time"

// Entry is one catalog row: a single channel stream keyed by its URL.
type Entry struct {
	ID         int64      `json:"id,omitempty"`
	Name       string     `json:"name"`
	Group      string     `json:"group"`
	Icon       *string    `json:"icon,omitempty"`
	URL        string     `json:"url"`
	UserAgent  *string    `json:"user_agent,omitempty"`
	Active     *bool      `json:"active,omitempty"`
	CheckTime  *time.Time `json:"checktime,omitempty"`
	LastOnline *time.Time `json:"lastonline,omitempty"`
}

// Status reports the tri-state liveness of the entry.
func (e *Entry) Status() Status {
	switch {
	case e.Active == nil:
		return StatusUnchecked
	case *e.Active:
		return StatusActive
	default:
		return StatusDead
	}
}

// UserAgentValue returns the user-agent override or "" when unset.
func (e *Entry) UserAgentValue() string {
	if e.UserAgent == nil {
		return ""
	}
	return *e.UserAgent
}

// IconValue returns the logo URL or "" when unset.
func (e *Entry) IconValue() string {
	if e.Icon == nil {
		return ""
	}
	return *e.Icon
}
