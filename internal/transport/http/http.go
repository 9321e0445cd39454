// Package http implements the HTTP/WebSocket transport for espremote.
//
// This transport serves the control page, a REST API for each trigger type,
// and a WebSocket endpoint that carries commands and audio frames over one
// connection. REST callers are tied to a session by cookie; a WebSocket
// connection is its own session.
package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/rkmjld2/mahajan-remote2/docs" // swagger document
	"github.com/rkmjld2/mahajan-remote2/internal/message"
	"github.com/rkmjld2/mahajan-remote2/internal/session"
)

// SessionCookie names the cookie carrying the REST session id.
const SessionCookie = "espremote_session"

// maxAudio caps voice uploads and WebSocket frames.
const maxAudio = 25 << 20 // 25 MB

//go:embed static/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// Info is shown on the control page.
type Info struct {
	Host   string
	Oracle string
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port   int
	info   Info
	server *http.Server
}

// New creates a new HTTP transport on the given port.
func New(port int, info Info) *Transport {
	return &Transport{port: port, info: info}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Listen starts the HTTP server and serves requests through sessions.
func (t *Transport) Listen(ctx context.Context, sessions *session.Manager) error {
	t.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.port),
		Handler:           t.Handler(sessions),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("http transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// Handler returns the routed handler. It is exported for tests.
func (t *Transport) Handler(sessions *session.Manager) http.Handler {
	h := &handlers{info: t.info, sessions: sessions}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("POST /api/actions/{action}", h.press)
	mux.HandleFunc("POST /api/command", h.command)
	mux.HandleFunc("POST /api/voice", h.voice)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /ws", h.websocket)

	// Swagger UI serves the registered OpenAPI document.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return logRequests(mux)
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

type handlers struct {
	info     Info
	sessions *session.Manager
}

// CommandRequest is the body of POST /api/command.
type CommandRequest struct {
	Text string `json:"text" example:"turn on d1"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// ErrorResponse is returned for malformed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTmpl.Execute(w, struct {
		Info
		Status string
	}{h.info, s.Status()})
	if err != nil {
		slog.Error("rendering control page", "error", err)
	}
}

// health runs a device health check.
//
// @Summary     Check device reachability
// @Description Requests the device root route and reports whether it answered.
// @Tags        device
// @Produce     json
// @Success     200  {object}  message.Interaction
// @Router      /api/health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	writeJSON(w, http.StatusOK, s.Health(r.Context()))
}

// press dispatches a direct action.
//
// @Summary     Dispatch a device action
// @Description Switches one output. The action is one of d1_on, d1_off, d2_on, d2_off.
// @Tags        device
// @Produce     json
// @Param       action  path      string  true  "Action"  Enums(d1_on, d1_off, d2_on, d2_off)
// @Success     200     {object}  message.Interaction
// @Failure     400     {object}  ErrorResponse
// @Router      /api/actions/{action} [post]
func (h *handlers) press(w http.ResponseWriter, r *http.Request) {
	action, ok := message.ParseAction(r.PathValue("action"))
	if !ok || action.IsNone() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown action %q", r.PathValue("action"))})
		return
	}
	s := h.session(w, r)
	writeJSON(w, http.StatusOK, s.Press(r.Context(), action))
}

// command resolves and dispatches typed text.
//
// @Summary     Run a text command
// @Description The text is resolved to a device action by the language model and dispatched.
// @Tags        command
// @Accept      json
// @Produce     json
// @Param       command  body      CommandRequest  true  "Command text"
// @Success     200      {object}  message.Interaction
// @Failure     400      {object}  ErrorResponse
// @Router      /api/command [post]
func (h *handlers) command(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json: " + err.Error()})
		return
	}
	s := h.session(w, r)
	writeJSON(w, http.StatusOK, s.Command(r.Context(), req.Text))
}

// voice transcribes and runs a spoken command.
//
// @Summary     Run a voice command
// @Description Accepts a WAV file or raw little-endian PCM16 mono 16 kHz samples.
// @Tags        command
// @Accept      audio/wav
// @Accept      audio/L16
// @Accept      application/octet-stream
// @Produce     json
// @Success     200  {object}  message.Interaction
// @Failure     400  {object}  ErrorResponse
// @Failure     415  {object}  ErrorResponse
// @Router      /api/voice [post]
func (h *handlers) voice(w http.ResponseWriter, r *http.Request) {
	if !audioContentType(r.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{Error: "expected audio/wav, audio/L16 or application/octet-stream"})
		return
	}
	capture, err := io.ReadAll(io.LimitReader(r.Body, maxAudio))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "reading audio: " + err.Error()})
		return
	}
	s := h.session(w, r)
	writeJSON(w, http.StatusOK, s.Voice(r.Context(), capture))
}

// status returns the last result of the caller's session.
//
// @Summary     Last result
// @Tags        session
// @Produce     json
// @Success     200  {object}  StatusResponse
// @Router      /api/status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	writeJSON(w, http.StatusOK, StatusResponse{SessionID: s.ID(), Status: s.Status()})
}

// session returns the caller's session, issuing a cookie for a new one.
func (h *handlers) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	s, created := h.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s
}

func audioContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16", "application/octet-stream":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}
