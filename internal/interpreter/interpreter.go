// Package interpreter defines the interfaces of the external language oracles.
//
// Two oracles are consulted over the network: a transcriber that turns WAV
// audio into text, and a completer that answers an instructional prompt with
// free text. espremote ships one backend for both, the OpenAI-compatible
// Groq API (see the groq subpackage).
package interpreter

import "context"

// Transcriber converts speech to text.
type Transcriber interface {
	// Transcribe converts a mono 16 kHz 16-bit WAV file to text.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Completer answers a text prompt.
type Completer interface {
	// Name returns the oracle's display name (e.g., "Groq"), used in error text.
	Name() string

	// Complete submits prompt and returns the model's reply.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Interpreter is a backend that provides both oracles.
type Interpreter interface {
	Transcriber
	Completer

	// Close releases any resources held by the backend.
	Close() error
}
