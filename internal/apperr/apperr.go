// Package apperr holds the user-facing error kinds shared by the feed core.
package apperr

import "fmt"

// NotFound reports that a requested message is absent from the local log.
// It is not fatal; the message may arrive with later replication.
type NotFound struct {
	ID string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("message %s not found, try again later", e.ID)
}

// InvalidUsage reports malformed caller input. It is returned before any
// store query is issued.
type InvalidUsage struct {
	Field   string
	Message string
}

func (e *InvalidUsage) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
