package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/worldcup-chat/internal/models"
)

// Endpoint implements the LLM interface against the chat backend of the widget. The whole assembled
// conversation is posted to {baseURL}/chat in one request, and the reply is read from the JSON
// response.
type Endpoint struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

type endpointMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type endpointRequest struct {
	Messages []endpointMessage `json:"messages"`
	Message  string            `json:"message"`
}

type endpointResponse struct {
	Reply *string `json:"reply"`
}

// StatusError is returned when the remote endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("network response was not ok: %d", e.StatusCode)
}

// NewEndpoint creates a new Endpoint posting to baseURL. A trailing slash on baseURL is ignored. The
// client has no timeout, a turn lasts until the remote side answers or the request context ends.
func NewEndpoint(baseURL string, logger *slog.Logger) Endpoint {
	return Endpoint{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "endpoint")),
	}
}

// Chat sends messages to the endpoint. The last message is the new utterance and is also sent on its
// own in the "message" field. It returns an empty string when the response carries no reply.
func (e Endpoint) Chat(ctx context.Context, messages []models.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages to send")
	}

	reqBody := endpointRequest{
		Messages: make([]endpointMessage, len(messages)),
		Message:  messages[len(messages)-1].Content,
	}
	for i, msg := range messages {
		reqBody.Messages[i] = endpointMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	url := e.baseURL + "/chat"
	e.logger.Debug("Request", slog.String("url", url), slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if id := SessionIDFromContext(ctx); id != "" {
		req.Header.Set("X-Session-ID", id)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	e.logger.Debug("Response", slog.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		e.logger.Error("Server responded with error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var res endpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("error decoding response: %w", err)
	}

	if res.Reply == nil {
		e.logger.Warn("Response has no reply field")
		return "", nil
	}
	return *res.Reply, nil
}
