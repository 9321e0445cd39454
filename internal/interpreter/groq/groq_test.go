package groq_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
	"github.com/rkmjld2/mahajan-remote2/internal/interpreter/groq"
)

func newClient(t *testing.T, handler http.HandlerFunc) *groq.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return groq.New(config.OracleConfig{
		Backend:            "groq",
		APIKey:             "gsk_test",
		BaseURL:            server.URL + "/",
		CompletionModel:    "llama-3.1-8b-instant",
		TranscriptionModel: "whisper-large-v3",
		Temperature:        0.1,
		MaxTokens:          100,
		Timeout:            5 * time.Second,
	}, server.Client())
}

func TestClient_Complete(t *testing.T) {
	var got map[string]any
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gsk_test" {
			t.Errorf("Authorization: got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "llama-3.1-8b-instant",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "ACTION: NONE\nSPEAK: Use the buttons to check status\n",
				},
			}},
		})
	})

	reply, err := client.Complete(context.Background(), "status")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "ACTION: NONE\nSPEAK: Use the buttons to check status" {
		t.Errorf("reply: got %q", reply)
	}

	if got["model"] != "llama-3.1-8b-instant" {
		t.Errorf("model: got %v", got["model"])
	}
	if got["temperature"] != 0.1 {
		t.Errorf("temperature: got %v", got["temperature"])
	}
	if got["max_tokens"] != float64(100) {
		t.Errorf("max_tokens: got %v", got["max_tokens"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	if m, _ := msgs[0].(map[string]any); m["role"] != "user" || m["content"] != "status" {
		t.Errorf("message: got %v", msgs[0])
	}
}

func TestClient_CompleteAPIError(t *testing.T) {
	calls := 0
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error"}}`)
	})

	if _, err := client.Complete(context.Background(), "turn on d1"); err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("requests: got %d, want exactly 1", calls)
	}
}

func TestClient_CompleteNoChoices(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[]}`)
	})

	_, err := client.Complete(context.Background(), "turn on d1")
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("got %v, want no choices error", err)
	}
}

func TestClient_Transcribe(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		if model := r.FormValue("model"); model != "whisper-large-v3" {
			t.Errorf("model: got %q", model)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer file.Close()
			if header.Filename != "audio.wav" {
				t.Errorf("filename: got %q", header.Filename)
			}
			data, _ := io.ReadAll(file)
			if string(data) != "RIFF-fake" {
				t.Errorf("file content: got %q", data)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" turn on d1 "}`)
	})

	text, err := client.Transcribe(context.Background(), []byte("RIFF-fake"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "turn on d1" {
		t.Errorf("text: got %q", text)
	}
}

func TestClient_Name(t *testing.T) {
	client := groq.New(config.OracleConfig{Backend: "groq", APIKey: "gsk_x"}, nil)
	if client.Name() != "Groq" {
		t.Errorf("Name: got %q", client.Name())
	}
}
