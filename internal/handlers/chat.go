package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
	"github.com/MegaGrindStone/worldcup-chat/internal/services"
	"github.com/google/uuid"
)

type message struct {
	ID        uint64
	Role      string
	Content   template.HTML
	Timestamp time.Time
}

var errUnknownQuickQuestion = errors.New("unknown quick question")

// HandleChats runs one turn of the conversation through an HTTP POST request. It accepts the user's
// text in the "message" form field, or the title of a quick question in the "quick" field.
//
// The user message is stored first, then the conversation is sent to the LLM and the reply is stored
// as an assistant message. When the LLM call fails the apology text takes the place of the reply, so a
// turn always ends with an assistant message. The response is the rendered user and assistant bubbles.
//
// The handler returns 405 for other methods, 400 for an empty message or an unknown quick question,
// and 500 only when the user message can't be stored.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	text, err := m.utterance(r)
	if err != nil {
		m.logger.Error("Invalid message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The turn outlives the request, a closed tab shouldn't turn a pending reply into an apology.
	ctx := context.WithoutCancel(r.Context())

	turnID := uuid.NewString()
	ctx = services.WithRequestID(ctx, turnID)
	if sessionID := m.sessionID(ctx); sessionID != "" {
		ctx = services.WithSessionID(ctx, sessionID)
	}
	logger := m.logger.With(slog.String("turnID", turnID))

	m.turns.Inc()

	um, err := m.store.AddMessage(ctx, models.RoleUser, text)
	if err != nil {
		logger.Error("Failed to add user message",
			slog.String("message", text),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	reply, err := m.assembler.Reply(ctx, um)
	if err != nil {
		logger.Error("Error fetching assistant response", slog.String(errLoggerKey, err.Error()))
		m.failures.WithLabelValues(failureReason(err)).Inc()
		reply = m.apology
	}

	am, err := m.store.AddMessage(ctx, models.RoleAssistant, reply)
	if err != nil {
		// The reply is still shown, it will be missing from the transcript after a reload.
		logger.Error("Failed to add assistant message",
			slog.String("message", reply),
			slog.String(errLoggerKey, err.Error()))
		m.failures.WithLabelValues("store").Inc()
		am = models.Message{
			Role:      models.RoleAssistant,
			Content:   reply,
			Timestamp: time.Now().UTC(),
		}
	}

	// Both bubbles are rendered before anything is written, so a failure yields a clean 500.
	var buf bytes.Buffer
	for _, msg := range []models.Message{um, am} {
		view, err := messageView(msg)
		if err != nil {
			logger.Error("Failed to render contents",
				slog.String("message", fmt.Sprintf("%+v", msg)),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := m.templates.ExecuteTemplate(&buf, messageTemplate(msg.Role), view); err != nil {
			logger.Error("Failed to execute message template", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleClear starts a new chat by removing the stored transcript and metadata. It responds with the
// welcome block that replaces the chat container content.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.store.Clear(r.Context()); err != nil {
		m.logger.Error("Failed to clear chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "welcome", m.quickQuestions); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) utterance(r *http.Request) (string, error) {
	if title := strings.TrimSpace(r.FormValue("quick")); title != "" {
		for _, q := range m.quickQuestions {
			if q.Title == title {
				return q.Question, nil
			}
		}
		return "", fmt.Errorf("%w: %s", errUnknownQuickQuestion, title)
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		return "", errors.New("message is required")
	}
	return msg, nil
}

// sessionID returns the id of the current conversation, minting one on the first turn after a clear.
// Failures only cost the id, the turn goes on without it.
func (m Main) sessionID(ctx context.Context) string {
	raw, err := m.store.Metadata(ctx, sessionIDKey)
	if err != nil {
		m.logger.Warn("Failed to get session id", slog.String(errLoggerKey, err.Error()))
		return ""
	}

	var id string
	if raw != nil {
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id
		}
	}

	id = uuid.NewString()
	if err := m.store.SetMetadata(ctx, sessionIDKey, id); err != nil {
		m.logger.Warn("Failed to set session id", slog.String(errLoggerKey, err.Error()))
		return ""
	}
	return id
}

func failureReason(err error) string {
	var statusErr *services.StatusError
	if errors.As(err, &statusErr) {
		return "status"
	}
	return "transport"
}

func messageTemplate(role models.Role) string {
	if role == models.RoleAssistant {
		return "ai_message"
	}
	return "user_message"
}

func messageView(msg models.Message) (message, error) {
	content, err := models.RenderContent(msg.Content)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:   msg.ID,
		Role: string(msg.Role),
		// RenderContent omits raw HTML from the source.
		Content:   template.HTML(content),
		Timestamp: msg.Timestamp,
	}, nil
}
