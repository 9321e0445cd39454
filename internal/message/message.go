// Package message defines the core data types flowing through the espremote pipeline.
package message

import (
	"strings"
	"time"
)

// Action is one of the fixed device outcomes a command can resolve to.
type Action string

const (
	// ActionNone means the command resolved to nothing to switch.
	ActionNone Action = "NONE"

	ActionD1On  Action = "D1_ON"
	ActionD1Off Action = "D1_OFF"
	ActionD2On  Action = "D2_ON"
	ActionD2Off Action = "D2_OFF"
)

// HealthPath is the device route used to check reachability.
const HealthPath = "/"

// routes is the total action-to-path mapping. ActionNone has no route.
var routes = map[Action]string{
	ActionD1On:  "/d1/on",
	ActionD1Off: "/d1/off",
	ActionD2On:  "/d2/on",
	ActionD2Off: "/d2/off",
}

// Actions returns the four switching actions in display order.
func Actions() []Action {
	return []Action{ActionD1On, ActionD1Off, ActionD2On, ActionD2Off}
}

// Path returns the device route for the action. ActionNone and unknown
// values report false.
func (a Action) Path() (string, bool) {
	p, ok := routes[a]
	return p, ok
}

// IsNone reports whether the action means "do nothing".
func (a Action) IsNone() bool {
	_, ok := routes[a]
	return !ok
}

// Output returns the output label ("D1" or "D2"), or "" for ActionNone.
func (a Action) Output() string {
	if a.IsNone() {
		return ""
	}
	out, _, _ := strings.Cut(string(a), "_")
	return out
}

// State returns "on" or "off", or "" for ActionNone.
func (a Action) State() string {
	if a.IsNone() {
		return ""
	}
	_, state, _ := strings.Cut(string(a), "_")
	return strings.ToLower(state)
}

// ParseAction maps an enum token such as "D1_ON" or "d2_off" to an Action.
func ParseAction(token string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(token)))
	if a == ActionNone {
		return ActionNone, true
	}
	if _, ok := routes[a]; ok {
		return a, true
	}
	return ActionNone, false
}

// ActionForPath maps a device route back to its Action.
func ActionForPath(path string) (Action, bool) {
	for a, p := range routes {
		if p == path {
			return a, true
		}
	}
	return ActionNone, false
}

// ValidPath reports whether path is one of the routes the device serves.
func ValidPath(path string) bool {
	if path == HealthPath {
		return true
	}
	_, ok := ActionForPath(path)
	return ok
}

// ResolvedCommand is the interpretation of one utterance.
type ResolvedCommand struct {
	// Action is ActionNone when the utterance maps to nothing to switch.
	Action Action `json:"action"`

	// Speak is the confirmation phrase to read back to the user.
	Speak string `json:"speak"`

	// Raw is the action value exactly as the oracle returned it.
	Raw string `json:"raw,omitempty"`
}

// HasAction reports whether the command should be dispatched.
func (c ResolvedCommand) HasAction() bool {
	return !c.Action.IsNone()
}

// DispatchResult is the outcome of one request to the device host.
type DispatchResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Kind identifies what triggered an interaction.
type Kind string

const (
	KindHealth  Kind = "health"
	KindPress   Kind = "press"
	KindCommand Kind = "command"
	KindVoice   Kind = "voice"
)

// Level tells the client how to present an interaction.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Interaction is the result of one user-triggered event, from trigger to
// display. Display and Speak are never empty.
type Interaction struct {
	// Kind is the trigger type.
	Kind Kind `json:"kind"`

	// Input is the typed text, when the trigger carried any.
	Input string `json:"input,omitempty"`

	// Transcript is the text heard in a voice interaction.
	Transcript string `json:"transcript,omitempty"`

	// Action is the action that was (or would have been) dispatched.
	Action Action `json:"action,omitempty"`

	// Result is set when a request reached the device dispatcher.
	Result *DispatchResult `json:"result,omitempty"`

	Level Level `json:"level"`

	// Display is the text shown as the session's last result.
	Display string `json:"display"`

	// Speak is the text the client reads aloud.
	Speak string `json:"speak"`

	Timestamp time.Time `json:"timestamp"`
}
