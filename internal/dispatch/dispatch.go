// Package dispatch implements the interaction pipeline.
//
// Each user-triggered event (button, typed command, voice capture, health
// check) runs through transcribe → resolve → device request and ends as a
// message.Interaction. Failures at any stage become part of the
// interaction: the caller always gets something to display and to speak.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/audio"
	"github.com/rkmjld2/mahajan-remote2/internal/interpreter"
	"github.com/rkmjld2/mahajan-remote2/internal/message"
)

// Resolver interprets free text into a device action.
type Resolver interface {
	Resolve(ctx context.Context, text string) message.ResolvedCommand
}

// Sender performs a single request against the device.
type Sender interface {
	Send(ctx context.Context, path string) message.DispatchResult
}

// Dispatcher is the pipeline shared by all sessions. It holds no
// per-session state.
type Dispatcher struct {
	resolver    Resolver
	device      Sender
	transcriber interpreter.Transcriber
	now         func() time.Time
}

// New creates a Dispatcher. transcriber may be nil, in which case voice
// interactions report that voice input is unavailable.
func New(resolver Resolver, device Sender, transcriber interpreter.Transcriber) *Dispatcher {
	return &Dispatcher{
		resolver:    resolver,
		device:      device,
		transcriber: transcriber,
		now:         time.Now,
	}
}

// Health checks that the device answers on its root route.
func (d *Dispatcher) Health(ctx context.Context) message.Interaction {
	res := d.device.Send(ctx, message.HealthPath)
	it := d.interaction(message.KindHealth)
	it.Result = &res

	if res.OK {
		it.Level = message.LevelSuccess
		it.Display = "ESP responds → connection OK"
		it.Speak = "Connection OK"
	} else {
		it.Level = message.LevelError
		it.Display = "Cannot reach ESP → " + res.Message + "\n\nChecklist:\n" +
			"1. Tunnel still running?\n" +
			"2. ESP powered on?\n" +
			"3. Device host matches the current tunnel domain?"
		it.Speak = "Cannot reach the device"
	}

	slog.Info("health check complete", "ok", res.OK)
	return it
}

// Press dispatches an action chosen directly by the user.
func (d *Dispatcher) Press(ctx context.Context, action message.Action) message.Interaction {
	it := d.interaction(message.KindPress)
	it.Action = action

	path, ok := action.Path()
	if !ok {
		it.Level = message.LevelWarning
		it.Display = "Nothing to do"
		it.Speak = "Nothing to do"
		return it
	}

	res := d.device.Send(ctx, path)
	it.Result = &res
	if res.OK {
		it.Level = message.LevelSuccess
		it.Display = nonEmpty(res.Message, confirmation(action))
		it.Speak = it.Display
	} else {
		it.Level = message.LevelError
		it.Display = "Error: " + res.Message
		it.Speak = failure(action)
	}

	slog.Info("press complete", "action", action, "ok", res.OK)
	return it
}

// Command resolves typed text and dispatches the resulting action, if any.
func (d *Dispatcher) Command(ctx context.Context, text string) message.Interaction {
	it := d.interaction(message.KindCommand)
	text = strings.TrimSpace(text)
	it.Input = text

	if text == "" {
		it.Level = message.LevelWarning
		it.Display = "Please type a command."
		it.Speak = it.Display
		return it
	}

	return d.resolveAndSend(ctx, it, text)
}

// Voice transcribes a capture (WAV or raw PCM16 mono 16 kHz) and then
// behaves like Command with the transcript.
func (d *Dispatcher) Voice(ctx context.Context, capture []byte) message.Interaction {
	it := d.interaction(message.KindVoice)
	logger := slog.With("kind", message.KindVoice)

	if len(capture) == 0 {
		it.Level = message.LevelError
		it.Display = "No audio received."
		it.Speak = it.Display
		return it
	}
	if d.transcriber == nil {
		it.Level = message.LevelError
		it.Display = "Voice input is not available."
		it.Speak = it.Display
		return it
	}

	wav, err := audio.FrameWAV(capture)
	if err != nil {
		logger.Warn("invalid audio capture", "bytes", len(capture), "error", err)
		return voiceFailed(it, err)
	}

	logger.Debug("transcribing audio", "bytes", len(wav))
	transcript, err := d.transcriber.Transcribe(ctx, wav)
	if err != nil {
		logger.Error("transcription failed", "error", err)
		return voiceFailed(it, err)
	}

	transcript = strings.TrimSpace(transcript)
	it.Transcript = transcript
	logger.Info("transcription complete", "text_length", len(transcript))

	if transcript == "" {
		it.Level = message.LevelWarning
		it.Display = "I didn't catch that."
		it.Speak = it.Display
		return it
	}

	return d.resolveAndSend(ctx, it, transcript)
}

func (d *Dispatcher) resolveAndSend(ctx context.Context, it message.Interaction, text string) message.Interaction {
	cmd := d.resolver.Resolve(ctx, text)
	it.Action = cmd.Action

	if !cmd.HasAction() {
		it.Level = message.LevelWarning
		it.Display = nonEmpty(cmd.Speak, "Sorry, I didn't understand.")
		it.Speak = it.Display
		slog.Info("command resolved to no action", "kind", it.Kind)
		return it
	}

	path, _ := cmd.Action.Path()
	res := d.device.Send(ctx, path)
	it.Result = &res

	if res.OK {
		it.Level = message.LevelSuccess
		it.Display = nonEmpty(res.Message, confirmation(cmd.Action))
		it.Speak = nonEmpty(cmd.Speak, it.Display)
	} else {
		it.Level = message.LevelError
		it.Display = "Failed: " + res.Message
		it.Speak = failure(cmd.Action)
	}

	slog.Info("command dispatched", "kind", it.Kind, "action", cmd.Action, "ok", res.OK)
	return it
}

func (d *Dispatcher) interaction(kind message.Kind) message.Interaction {
	return message.Interaction{Kind: kind, Action: message.ActionNone, Timestamp: d.now()}
}

func voiceFailed(it message.Interaction, err error) message.Interaction {
	it.Level = message.LevelError
	it.Display = fmt.Sprintf("Voice failed: %v", err)
	it.Speak = "Voice processing error."
	return it
}

func confirmation(a message.Action) string {
	return fmt.Sprintf("%s is now %s", a.Output(), a.State())
}

func failure(a message.Action) string {
	return fmt.Sprintf("Failed to turn %s %s", a.Output(), a.State())
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
