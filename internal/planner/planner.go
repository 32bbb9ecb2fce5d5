// Package planner turns a structured trip request into the task graph
// consumed by the dispatcher. Decomposition is deterministic: the same
// request always yields the same task shapes, dependencies, and priorities
// (ids and timestamps aside).
package planner

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voyagerhq/voyager/internal/graph"
	"github.com/voyagerhq/voyager/pkg/models"
)

// PlanningError is a fatal decomposition failure: malformed or contradictory
// request. Surfaced to the caller immediately, never retried, no tasks created.
type PlanningError struct {
	Reason string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// priorityTable statically assigns each agent type's scheduling tier.
// Critical-path work (itinerary skeleton, transport) is P0; optional
// enrichment (weather) is P3. The failure-propagation policy keys off
// these tiers, never off agent type names.
var priorityTable = map[models.AgentType]models.Priority{
	models.AgentPlanning:      models.PriorityP0,
	models.AgentTransport:     models.PriorityP0,
	models.AgentLocation:      models.PriorityP1,
	models.AgentAccommodation: models.PriorityP1,
	models.AgentBudget:        models.PriorityP2,
	models.AgentActivity:      models.PriorityP2,
	models.AgentWeather:       models.PriorityP3,
}

// PriorityFor returns the static priority tier for an agent type.
func PriorityFor(agentType models.AgentType) models.Priority {
	if p, ok := priorityTable[agentType]; ok {
		return p
	}
	return models.PriorityP2
}

// Plan validates the request and produces the task graph for it.
// The returned graph is fully built (acyclic by construction, verified by
// Build) with every task in pending status.
func Plan(requestID string, req *models.TripRequest) (*graph.DependencyGraph, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	b := newBuilder(requestID)

	// Itinerary skeleton first; everything downstream hangs off it.
	planning := b.add(models.AgentPlanning, map[string]any{
		"destinations": req.Destinations,
		"start_date":   req.StartDate,
		"end_date":     req.EndDate,
		"travelers":    req.Travelers,
		"preferences":  req.Preferences,
	})

	// One transport search for the whole trip.
	transport := b.add(models.AgentTransport, map[string]any{
		"destinations": req.Destinations,
		"start_date":   req.StartDate,
		"end_date":     req.EndDate,
		"travelers":    req.Travelers,
	}, planning)

	var accommodations []string
	for _, dest := range req.Destinations {
		// Accommodation needs candidate neighborhoods, hence the edge to
		// the destination's location analysis.
		location := b.add(models.AgentLocation, map[string]any{
			"destination": dest,
			"preferences": req.Preferences,
		}, planning)

		accommodation := b.add(models.AgentAccommodation, map[string]any{
			"destination": dest,
			"travelers":   req.Travelers,
			"start_date":  req.StartDate,
			"end_date":    req.EndDate,
		}, location)
		accommodations = append(accommodations, accommodation)

		b.add(models.AgentActivity, map[string]any{
			"destination": dest,
			"preferences": req.Preferences,
		}, location)

		// Weather is independent of the rest of the plan.
		b.add(models.AgentWeather, map[string]any{
			"destination": dest,
			"start_date":  req.StartDate,
			"end_date":    req.EndDate,
		})
	}

	if req.Budget > 0 {
		// Budget reconciliation needs the priced components, and it mutates
		// the shared budget allocation, so it must hold the budget lock.
		deps := append([]string{transport}, accommodations...)
		b.addLocked(models.AgentBudget, []string{"budget_total"}, map[string]any{
			"budget":    req.Budget,
			"currency":  req.Currency,
			"travelers": req.Travelers,
		}, deps...)
	}

	g := graph.New()
	if err := g.Build(b.tasks); err != nil {
		// A cycle here is a planner bug, but it is still surfaced as a
		// fatal planning error rather than a silent loop.
		return nil, &PlanningError{Reason: "task graph construction", Err: err}
	}
	return g, nil
}

// validate rejects malformed or contradictory requests.
func validate(req *models.TripRequest) error {
	if req == nil {
		return &PlanningError{Reason: "nil request"}
	}
	if len(req.Destinations) == 0 {
		return &PlanningError{Reason: "no destinations"}
	}
	for _, dest := range req.Destinations {
		if dest == "" {
			return &PlanningError{Reason: "empty destination name"}
		}
	}
	if req.Travelers <= 0 {
		return &PlanningError{Reason: fmt.Sprintf("travelers must be positive, got %d", req.Travelers)}
	}
	if req.Budget < 0 {
		return &PlanningError{Reason: fmt.Sprintf("budget must be non-negative, got %v", req.Budget)}
	}

	start, end, err := req.Dates()
	if err != nil {
		return &PlanningError{Reason: "invalid dates", Err: err}
	}
	if end.Before(start) {
		return &PlanningError{Reason: fmt.Sprintf("end date %s before start date %s", req.EndDate, req.StartDate)}
	}
	return nil
}

// builder accumulates tasks with sequential creation order.
type builder struct {
	requestID string
	tasks     []*models.Task
}

func newBuilder(requestID string) *builder {
	return &builder{requestID: requestID}
}

// add creates a task and returns its ID for use as a dependency.
func (b *builder) add(agentType models.AgentType, input map[string]any, deps ...string) string {
	return b.addLocked(agentType, nil, input, deps...)
}

// addLocked creates a task that must hold the named resource locks while running.
func (b *builder) addLocked(agentType models.AgentType, locks []string, input map[string]any, deps ...string) string {
	task := &models.Task{
		ID:        uuid.New().String(),
		RequestID: b.requestID,
		Type:      agentType,
		Priority:  PriorityFor(agentType),
		Input:     input,
		DependsOn: deps,
		Locks:     locks,
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
		Seq:       len(b.tasks),
	}
	b.tasks = append(b.tasks, task)
	return task.ID
}
