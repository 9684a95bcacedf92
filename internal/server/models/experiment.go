// Package models defines server-side data models persisted in the database.
package models

import "time"

// Experiment links a hosted online experiment to an OSF data component.
type Experiment struct {
	// ID is the 12-symbol alphanumeric id generated at creation.
	ID    string `json:"id"`
	Title string `json:"title"`
	// Owner is the creating user's id; never reassigned.
	Owner string `json:"owner"`
	// OSFRepo is the id of the OSF node provisioned for this experiment.
	OSFRepo string `json:"osfRepo"`
	// OSFFilesLink is the storage provider upload URL of that node.
	OSFFilesLink string    `json:"osfFilesLink"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Usable reports whether both OSF identifiers were recorded.
func (e *Experiment) Usable() bool {
	return e.OSFRepo != "" && e.OSFFilesLink != ""
}

// IdempotencyKey records which experiment a caller-supplied key produced.
type IdempotencyKey struct {
	UserID       string
	Key          string
	ExperimentID string
	CreatedAt    time.Time
}
