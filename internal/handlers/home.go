package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
)

type homePageData struct {
	Messages       []message
	QuickQuestions []QuickQuestion
}

// HandleHome renders the chat page. The stored transcript is replayed in insertion order, and the
// welcome block with the quick questions is shown when there is nothing to replay.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	messages, err := m.store.Messages(r.Context())
	if err != nil {
		m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	msgs := make([]message, len(messages))
	for i := range messages {
		msgs[i], err = messageView(messages[i])
		if err != nil {
			m.logger.Error("Failed to render contents",
				slog.String("message", fmt.Sprintf("%+v", messages[i])),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	data := homePageData{
		Messages:       msgs,
		QuickQuestions: m.quickQuestions,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
