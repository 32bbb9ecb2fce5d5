package models

import (
	"fmt"
	"time"
)

// TripRequest is a structured, pre-validated trip planning request.
// Natural-language parsing happens upstream; this core only consumes
// the structured form.
type TripRequest struct {
	// Destinations lists the cities or regions to visit, in order.
	Destinations []string `json:"destinations" yaml:"destinations"`
	// StartDate is the first day of travel (YYYY-MM-DD).
	StartDate string `json:"start_date" yaml:"start_date"`
	// EndDate is the last day of travel (YYYY-MM-DD).
	EndDate string `json:"end_date" yaml:"end_date"`
	// Travelers is the number of people traveling.
	Travelers int `json:"travelers" yaml:"travelers"`
	// Budget is the total trip budget in the request currency. Zero means unconstrained.
	Budget float64 `json:"budget,omitempty" yaml:"budget"`
	// Currency is the ISO currency code for Budget.
	Currency string `json:"currency,omitempty" yaml:"currency"`
	// Preferences are free-form preference tags (e.g. "museums", "no-red-eye").
	Preferences []string `json:"preferences,omitempty" yaml:"preferences"`
}

// Dates parses the start and end dates. An error here is a planning-level
// validation failure, not a runtime one.
func (r *TripRequest) Dates() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", r.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start_date %q: %w", r.StartDate, err)
	}
	end, err = time.Parse("2006-01-02", r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end_date %q: %w", r.EndDate, err)
	}
	return start, end, nil
}

// RequestStatus represents the overall state of a planning request.
type RequestStatus string

const (
	// RequestStatusPlanning indicates the planner is still building the task graph.
	RequestStatusPlanning RequestStatus = "planning"
	// RequestStatusRunning indicates tasks are being dispatched and executed.
	RequestStatusRunning RequestStatus = "running"
	// RequestStatusCompleted indicates every task completed and results were merged.
	RequestStatusCompleted RequestStatus = "completed"
	// RequestStatusPartial indicates the request finished but optional components
	// failed or were cancelled; results for the surviving components are present.
	RequestStatusPartial RequestStatus = "partial"
	// RequestStatusError indicates a critical-path (P0) task failed terminally;
	// no partial itinerary is returned.
	RequestStatusError RequestStatus = "error"
	// RequestStatusCancelled indicates the caller cancelled the request.
	RequestStatusCancelled RequestStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPlanning, RequestStatusRunning, RequestStatusCompleted,
		RequestStatusPartial, RequestStatusError, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the request reached a final state.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusPartial, RequestStatusError, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// Component is one merged slice of the final itinerary, keyed by the
// agent type that produced it.
type Component struct {
	// Type is the agent type that produced this component.
	Type AgentType `json:"type"`
	// Payload is the merged result payload for this component.
	Payload map[string]any `json:"payload,omitempty"`
}

// RequestResult is the final merged response for a planning request.
type RequestResult struct {
	// RequestID is the ID of the planning request.
	RequestID string `json:"request_id"`
	// Status is the final disposition of the request.
	Status RequestStatus `json:"status"`
	// Components holds the merged results of completed tasks, keyed by agent type.
	Components map[AgentType]Component `json:"components,omitempty"`
	// Unresolved lists agent types whose tasks failed or were cancelled.
	// Populated for partial results so callers can see exactly what is missing.
	Unresolved []AgentType `json:"unresolved,omitempty"`
	// Error carries the fatal error for error results.
	Error string `json:"error,omitempty"`
	// CompletedAt is when the result was finalized.
	CompletedAt time.Time `json:"completed_at"`
}
