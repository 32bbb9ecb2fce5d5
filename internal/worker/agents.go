package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voyagerhq/voyager/pkg/models"
)

// agentProfile holds the per-agent-type prompt construction and response
// parsing logic as pure functions. Dispatch over the AgentType tag keeps
// the Worker itself agent-agnostic and each profile unit-testable.
type agentProfile struct {
	// system is the role-establishing system prompt.
	system string
	// resultKey is the top-level key the provider response must contain.
	resultKey string
}

var agentProfiles = map[models.AgentType]agentProfile{
	models.AgentPlanning: {
		system:    "You are a trip planning agent. Produce a day-by-day itinerary skeleton for the request. Respond with a JSON object containing an \"itinerary\" array.",
		resultKey: "itinerary",
	},
	models.AgentLocation: {
		system:    "You are a location analysis agent. Identify candidate neighborhoods and areas for the destinations. Respond with a JSON object containing a \"neighborhoods\" array.",
		resultKey: "neighborhoods",
	},
	models.AgentTransport: {
		system:    "You are a transport search agent. Propose flight, rail, and transit options for the trip. Respond with a JSON object containing an \"options\" array.",
		resultKey: "options",
	},
	models.AgentAccommodation: {
		system:    "You are an accommodation search agent. Propose lodging options within the candidate neighborhoods. Respond with a JSON object containing an \"options\" array.",
		resultKey: "options",
	},
	models.AgentActivity: {
		system:    "You are an activity planning agent. Propose activities matching the travelers' preferences. Respond with a JSON object containing an \"activities\" array.",
		resultKey: "activities",
	},
	models.AgentBudget: {
		system:    "You are a budget allocation agent. Reconcile costs against the trip budget. Respond with a JSON object containing an \"allocation\" object.",
		resultKey: "allocation",
	},
	models.AgentWeather: {
		system:    "You are a weather agent. Summarize forecasts for the travel window. Respond with a JSON object containing a \"forecast\" array.",
		resultKey: "forecast",
	},
}

// buildPrompt renders the task input as the user-turn prompt.
// Pure: same task input always yields the same prompt.
func buildPrompt(agentType models.AgentType, input map[string]any) (string, error) {
	if _, ok := agentProfiles[agentType]; !ok {
		return "", fmt.Errorf("no agent profile for type %q", agentType)
	}

	encoded, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode task input: %w", err)
	}

	var b strings.Builder
	b.WriteString("Task input:\n")
	b.Write(encoded)
	b.WriteString("\n\nRespond with a single JSON object and nothing else.")
	return b.String(), nil
}

// parseResult validates the provider text against the agent's declared
// output schema and returns the decoded payload. Pure.
func parseResult(agentType models.AgentType, text string) (map[string]any, error) {
	profile, ok := agentProfiles[agentType]
	if !ok {
		return nil, fmt.Errorf("no agent profile for type %q", agentType)
	}

	trimmed := extractJSONObject(text)
	if trimmed == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if _, ok := payload[profile.resultKey]; !ok {
		return nil, fmt.Errorf("response missing required key %q", profile.resultKey)
	}
	return payload, nil
}

// extractJSONObject returns the outermost {...} span of the text, tolerating
// prose or code fences around the object. Returns "" if none is found.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
