// Package view turns pagination snapshots into what the host displays:
// the records table, the sentinel status line and the progress indicator.
package view

import (
	"math"
	"strconv"

	"github.com/Sternrassler/scrollfeed/pkg/pagination"
	"github.com/Sternrassler/scrollfeed/pkg/record"
)

// Status is what the sentinel region shows.
type Status string

// Sentinel statuses, in the order a feed usually goes through them.
const (
	StatusInitialLoading Status = "initial-loading"
	StatusLoadingMore    Status = "loading-more"
	StatusMoreAvailable  Status = "more-available"
	StatusAllLoaded      Status = "all-loaded"
	StatusFailed         Status = "failed"
)

// Model is the render-ready view of a feed.
type Model struct {
	Rows      []record.Record `json:"rows"`
	Shown     int             `json:"shown"`
	Total     int             `json:"total"`
	Remaining int             `json:"remaining"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`

	// Progress is Shown/Total in [0, 1]; 0 when there is nothing to show.
	Progress float64 `json:"progress"`

	// Percent is Progress as a rounded percentage.
	Percent int `json:"percent"`
}

// FromSnapshot builds the view model.
func FromSnapshot(s pagination.Snapshot) Model {
	m := Model{
		Rows:      s.Revealed,
		Shown:     len(s.Revealed),
		Total:     s.Total,
		Remaining: max(s.Total-len(s.Revealed), 0),
	}
	if m.Rows == nil {
		m.Rows = []record.Record{}
	}

	if m.Total > 0 {
		m.Progress = float64(m.Shown) / float64(m.Total)
		m.Percent = int(math.Round(m.Progress * 100))
	}

	switch {
	case s.InitialLoading:
		m.Status = StatusInitialLoading
	case s.State == pagination.StateFailed:
		m.Status = StatusFailed
		if s.Err != nil {
			m.Error = s.Err.Error()
		}
	case s.Loading():
		m.Status = StatusLoadingMore
	case s.HasMore():
		m.Status = StatusMoreAvailable
	default:
		m.Status = StatusAllLoaded
	}

	return m
}

// Message is the sentinel text for the model's status.
func (m Model) Message() string {
	switch m.Status {
	case StatusInitialLoading:
		return "Loading initial data..."
	case StatusLoadingMore:
		return "Loading more posts..."
	case StatusMoreAvailable:
		return "Scroll down to load more posts (" + strconv.Itoa(m.Remaining) + " remaining)"
	case StatusAllLoaded:
		return "All posts loaded! You've reached the end of the list."
	case StatusFailed:
		return "Could not load posts."
	default:
		return ""
	}
}
