package models

import "time"

// Record is a site data record written by the record actions.
type Record struct {
	ID         string         `json:"id"`
	SiteID     string         `json:"site_id"`
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
