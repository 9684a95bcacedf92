package models

import "time"

// User is a relay account keyed by the identity provider's subject id.
type User struct {
	ID string
	// OSFToken is the sealed OSF personal access token; empty when not connected.
	OSFToken      string
	OSFTokenValid bool
	// Experiments is the set of experiment ids owned by the user.
	Experiments []string
	CreatedAt   time.Time
}

// HasExperiment reports whether id is in the user's experiment set.
func (u *User) HasExperiment(id string) bool {
	for _, e := range u.Experiments {
		if e == id {
			return true
		}
	}
	return false
}
