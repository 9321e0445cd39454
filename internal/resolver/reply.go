package resolver

import "strings"

// DefaultSpeak is spoken when the oracle reply carries no SPEAK line.
const DefaultSpeak = "Sorry, I didn't understand."

const (
	actionPrefix = "ACTION:"
	speakPrefix  = "SPEAK:"
	noneValue    = "NONE"
)

// Reply is the structured form of the oracle's two-line answer.
type Reply struct {
	// Action is the raw ACTION value. Empty when absent or NONE.
	Action string

	// Speak is the SPEAK value, or DefaultSpeak when the line is missing.
	Speak string

	// HasSpeak reports whether a SPEAK line was present.
	HasSpeak bool
}

// HasAction reports whether the reply names something to dispatch.
func (r Reply) HasAction() bool { return r.Action != "" }

// ParseReply extracts the ACTION and SPEAK fields from an oracle reply.
//
// Every line is trimmed; a line starting with "ACTION:" or "SPEAK:" sets the
// field to the rest of the line after the first colon, trimmed. When a field
// appears more than once the last line wins. An ACTION of exactly "NONE" is
// treated as absent.
func ParseReply(reply string) Reply {
	r := Reply{Speak: DefaultSpeak}

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, actionPrefix):
			r.Action = afterColon(line)
		case strings.HasPrefix(line, speakPrefix):
			r.Speak = afterColon(line)
			r.HasSpeak = true
		}
	}

	if r.Action == noneValue {
		r.Action = ""
	}
	return r
}

func afterColon(line string) string {
	_, rest, _ := strings.Cut(line, ":")
	return strings.TrimSpace(rest)
}
