// Package internal holds helpers shared across authgate packages.
package internal

import "github.com/google/uuid"

// NewSessionID returns a time-ordered unique session identifier. V7 keeps
// Redis key scans and audit logs roughly chronological.
func NewSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
