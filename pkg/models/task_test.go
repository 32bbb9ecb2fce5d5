package models

import "testing"

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"ready is valid", TaskStatusReady, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("done"), false},
		{"typo status is invalid", TaskStatus("runnning"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusReady, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAgentType_Valid(t *testing.T) {
	for _, at := range AllAgentTypes() {
		if !at.Valid() {
			t.Errorf("AgentType(%q).Valid() = false, want true", at)
		}
	}

	invalid := []AgentType{"", "weather ", "flights", "unknown"}
	for _, at := range invalid {
		if at.Valid() {
			t.Errorf("AgentType(%q).Valid() = true, want false", at)
		}
	}
}

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityP0, "P0"},
		{PriorityP1, "P1"},
		{PriorityP2, "P2"},
		{PriorityP3, "P3"},
		{Priority(7), "P?"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.priority.String(); got != tt.want {
				t.Errorf("Priority(%d).String() = %q, want %q", tt.priority, got, tt.want)
			}
		})
	}
}

func TestPriority_Ordering(t *testing.T) {
	// Scheduling relies on P0 < P1 < P2 < P3 as integers.
	if !(PriorityP0 < PriorityP1 && PriorityP1 < PriorityP2 && PriorityP2 < PriorityP3) {
		t.Fatal("priority constants must be ordered P0 < P1 < P2 < P3")
	}

	if Priority(-1).Valid() || Priority(4).Valid() {
		t.Error("out-of-range priorities must be invalid")
	}
}
