package planner

import (
	"errors"
	"testing"

	"github.com/voyagerhq/voyager/pkg/models"
)

func validRequest() *models.TripRequest {
	return &models.TripRequest{
		Destinations: []string{"Tokyo", "Kyoto"},
		StartDate:    "2026-04-01",
		EndDate:      "2026-04-10",
		Travelers:    2,
		Budget:       5000,
		Currency:     "USD",
		Preferences:  []string{"museums", "food"},
	}
}

func TestPlanProducesAcyclicGraph(t *testing.T) {
	g, err := Plan("req-1", validRequest())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	if g.HasCycle() {
		t.Fatal("planner produced a cyclic graph")
	}
	if _, err := g.TopologicalSort(); err != nil {
		t.Fatalf("topological sort must exist: %v", err)
	}
}

func TestPlanTaskShape(t *testing.T) {
	g, err := Plan("req-1", validRequest())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	counts := make(map[models.AgentType]int)
	for _, task := range g.Tasks() {
		counts[task.Type]++

		if task.RequestID != "req-1" {
			t.Errorf("task %s has request id %q", task.ID, task.RequestID)
		}
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %s created with status %s, want pending", task.ID, task.Status)
		}
		if want := PriorityFor(task.Type); task.Priority != want {
			t.Errorf("task type %s has priority %s, want %s", task.Type, task.Priority, want)
		}
	}

	// Two destinations: one planning, one transport, one budget, and one
	// location/accommodation/activity/weather per destination.
	want := map[models.AgentType]int{
		models.AgentPlanning:      1,
		models.AgentTransport:     1,
		models.AgentBudget:        1,
		models.AgentLocation:      2,
		models.AgentAccommodation: 2,
		models.AgentActivity:      2,
		models.AgentWeather:       2,
	}
	for at, n := range want {
		if counts[at] != n {
			t.Errorf("expected %d %s tasks, got %d", n, at, counts[at])
		}
	}
}

func TestPlanDependencyEdges(t *testing.T) {
	g, err := Plan("req-1", validRequest())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	byType := make(map[models.AgentType][]*models.Task)
	byID := make(map[string]*models.Task)
	for _, task := range g.Tasks() {
		byType[task.Type] = append(byType[task.Type], task)
		byID[task.ID] = task
	}

	// Accommodation depends on a location analysis, not directly on planning.
	for _, acc := range byType[models.AgentAccommodation] {
		if len(acc.DependsOn) != 1 {
			t.Fatalf("accommodation task has %d deps, want 1", len(acc.DependsOn))
		}
		if dep := byID[acc.DependsOn[0]]; dep.Type != models.AgentLocation {
			t.Errorf("accommodation depends on %s, want location", dep.Type)
		}
	}

	// Budget depends on transport and every accommodation.
	budget := byType[models.AgentBudget][0]
	depTypes := make(map[models.AgentType]int)
	for _, depID := range budget.DependsOn {
		depTypes[byID[depID].Type]++
	}
	if depTypes[models.AgentTransport] != 1 || depTypes[models.AgentAccommodation] != 2 {
		t.Errorf("budget dependencies = %v", depTypes)
	}

	// Weather is independent.
	for _, w := range byType[models.AgentWeather] {
		if len(w.DependsOn) != 0 {
			t.Errorf("weather task has deps %v, want none", w.DependsOn)
		}
	}
}

func TestPlanWithoutBudgetSkipsBudgetTask(t *testing.T) {
	req := validRequest()
	req.Budget = 0

	g, err := Plan("req-1", req)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	for _, task := range g.Tasks() {
		if task.Type == models.AgentBudget {
			t.Fatal("budget task created for unconstrained request")
		}
	}
}

func TestPlanSeqIsCreationOrder(t *testing.T) {
	g, err := Plan("req-1", validRequest())
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	seen := make(map[int]bool)
	for _, task := range g.Tasks() {
		if seen[task.Seq] {
			t.Errorf("duplicate seq %d", task.Seq)
		}
		seen[task.Seq] = true
		if task.Seq < 0 || task.Seq >= g.Size() {
			t.Errorf("seq %d out of range", task.Seq)
		}
	}
}

func TestPlanRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.TripRequest)
	}{
		{"no destinations", func(r *models.TripRequest) { r.Destinations = nil }},
		{"empty destination", func(r *models.TripRequest) { r.Destinations = []string{"Tokyo", ""} }},
		{"zero travelers", func(r *models.TripRequest) { r.Travelers = 0 }},
		{"negative travelers", func(r *models.TripRequest) { r.Travelers = -1 }},
		{"negative budget", func(r *models.TripRequest) { r.Budget = -100 }},
		{"malformed start date", func(r *models.TripRequest) { r.StartDate = "soon" }},
		{"malformed end date", func(r *models.TripRequest) { r.EndDate = "later" }},
		{"end before start", func(r *models.TripRequest) { r.StartDate = "2026-04-10"; r.EndDate = "2026-04-01" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			g, err := Plan("req-1", req)
			var perr *PlanningError
			if !errors.As(err, &perr) {
				t.Fatalf("Plan() = %v, want *PlanningError", err)
			}
			if g != nil {
				t.Error("no graph may be created for a rejected request")
			}
		})
	}
}

func TestPlanNilRequest(t *testing.T) {
	var perr *PlanningError
	if _, err := Plan("req-1", nil); !errors.As(err, &perr) {
		t.Fatalf("Plan(nil) = %v, want *PlanningError", err)
	}
}

func TestPriorityTableCoversAllAgentTypes(t *testing.T) {
	for _, at := range models.AllAgentTypes() {
		if p := PriorityFor(at); !p.Valid() {
			t.Errorf("PriorityFor(%s) = %s, invalid", at, p)
		}
	}
	// Spot-check the tiers the propagation policy hinges on.
	if PriorityFor(models.AgentTransport) != models.PriorityP0 {
		t.Error("transport must be critical path (P0)")
	}
	if PriorityFor(models.AgentWeather) != models.PriorityP3 {
		t.Error("weather must be optional (P3)")
	}
}
