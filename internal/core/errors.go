package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrReportBusy is returned when a run is requested for a report that is
// already executing. The caller may retry later; the coordinator never
// queues or retries on its own.
var ErrReportBusy = errors.New("report is already running")

// ErrReportInactive is returned when a scheduled trigger targets a
// report whose schedule has been deactivated.
var ErrReportInactive = errors.New("report is not active")

// ErrNotOwner is returned when the acting identity does not own the
// report it asked to run.
var ErrNotOwner = errors.New("report is owned by a different user")

// GenerationError reports a non-success outcome from the generation
// service. Status 504/408 indicates the call timed out; a 500-class
// status indicates the input was too large for the service to process.
type GenerationError struct {
	Status int
	Body   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed with status %d: %s", e.Status, e.Body)
}

// Timeout reports whether the failure was a timeout.
func (e *GenerationError) Timeout() bool {
	return e.Status == http.StatusGatewayTimeout || e.Status == http.StatusRequestTimeout
}

// Oversized reports whether the service rejected the input as too large.
func (e *GenerationError) Oversized() bool {
	return !e.Timeout() && e.Status >= 500
}

// Guidance returns remediation text suitable for showing to the user.
func (e *GenerationError) Guidance() string {
	switch {
	case e.Timeout():
		return "The request took too long to process. Try again, or narrow the report prompt."
	case e.Oversized():
		return "The request was too large for the service to process. Narrow the report prompt and try again."
	default:
		return "Report generation failed. Please try again."
	}
}
