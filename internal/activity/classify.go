package activity

import "strings"

// State is the semantic activity of a session.
type State string

const (
	Running    State = "running"
	Finished   State = "finished"
	NeedsInput State = "needs_input"
)

// tokenStates maps hook event names to states.
var tokenStates = map[string]State{
	"UserPromptSubmit":  Running,
	"PreToolUse":        Running,
	"Stop":              Finished,
	"TaskCompleted":     Finished,
	"Notification":      NeedsInput,
	"PermissionRequest": NeedsInput,
}

// Classify maps raw status content to a state. The hook integration prepends
// each event, so the first non-empty line is the newest token.
func Classify(content string) (State, bool) {
	token := newestToken(content)
	if token == "" {
		return "", false
	}
	state, ok := tokenStates[token]
	return state, ok
}

func newestToken(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
