// Package resolver turns free-form commands into one of the fixed device
// actions.
//
// The resolver asks a text-completion oracle to answer in a two-line
// grammar (ACTION / SPEAK), parses the answer and validates the action
// against the closed action set. It never fails: oracle errors and
// unsupported answers come back as a command with no action and an
// explanatory phrase.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rkmjld2/mahajan-remote2/internal/interpreter"
	"github.com/rkmjld2/mahajan-remote2/internal/message"
)

// Resolver maps text to a ResolvedCommand using a completion oracle.
type Resolver struct {
	oracle interpreter.Completer
	host   string
}

// New creates a resolver for the device reachable at host (domain only).
func New(oracle interpreter.Completer, host string) *Resolver {
	return &Resolver{oracle: oracle, host: strings.ToLower(host)}
}

// Resolve interprets text. Any failure is folded into the result.
func (r *Resolver) Resolve(ctx context.Context, text string) message.ResolvedCommand {
	logger := slog.With("oracle", r.oracle.Name())

	answer, err := r.oracle.Complete(ctx, r.Prompt(text))
	if err != nil {
		logger.Error("intent resolution failed", "error", err)
		return message.ResolvedCommand{
			Action: message.ActionNone,
			Speak:  fmt.Sprintf("%s error: %v", r.oracle.Name(), err),
		}
	}

	reply := ParseReply(answer)
	cmd := message.ResolvedCommand{
		Action: message.ActionNone,
		Speak:  reply.Speak,
		Raw:    reply.Action,
	}

	if reply.HasAction() {
		action, ok := r.normalizeAction(reply.Action)
		if !ok {
			logger.Warn("oracle returned an unsupported action", "action", reply.Action)
			cmd.Speak = fmt.Sprintf("Sorry, I can't do that: %s", reply.Action)
			return cmd
		}
		cmd.Action = action
	}

	if cmd.Speak == "" && !cmd.HasAction() {
		cmd.Speak = DefaultSpeak
	}

	logger.Info("intent resolved", "action", cmd.Action, "has_speak", reply.HasSpeak)
	return cmd
}

// Prompt builds the instruction sent to the oracle for text.
func (r *Resolver) Prompt(text string) string {
	base := "https://" + r.host

	var sb strings.Builder
	sb.WriteString("You are a home automation assistant controlling D1 and D2 on an ESP8266.\n")
	sb.WriteString("ESP base URL: " + base + "\n\n")
	sb.WriteString("User command: \"" + text + "\"\n\n")
	sb.WriteString("Respond ONLY with exactly two lines:\n\n")
	sb.WriteString("ACTION: <full URL like " + base + "/d1/on or NONE>\n")
	sb.WriteString("SPEAK: <short sentence to speak back>\n\n")
	sb.WriteString("Examples:\n")
	sb.WriteString("User: turn on d1     → ACTION: " + base + "/d1/on   SPEAK: D1 is now on\n")
	sb.WriteString("User: switch off D2  → ACTION: " + base + "/d2/off  SPEAK: D2 is now off\n")
	sb.WriteString("User: status         → ACTION: NONE                        SPEAK: Use the buttons to check status\n\n")
	sb.WriteString("Now decide:")
	return sb.String()
}

// normalizeAction accepts a full URL on the configured host, a bare route
// path, a host-prefixed path or an enum token, and maps it to an Action.
func (r *Resolver) normalizeAction(raw string) (message.Action, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), "`\"'")

	if a, ok := message.ParseAction(raw); ok {
		return a, true
	}

	var path string
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Host, r.host) {
			return message.ActionNone, false
		}
		path = u.Path
	case strings.HasPrefix(raw, "/"):
		path = raw
	case r.host != "" && strings.HasPrefix(strings.ToLower(raw), r.host+"/"):
		path = raw[len(r.host):]
	default:
		return message.ActionNone, false
	}

	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return message.ActionForPath(strings.ToLower(path))
}
