package handlers

import (
	"context"
	"encoding/json"
	"html/template"
	"log/slog"

	worldcupchat "github.com/MegaGrindStone/worldcup-chat"
	"github.com/MegaGrindStone/worldcup-chat/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// LLM represents a completion backend. It accepts the assembled conversation, where the last message
// is the new user utterance, and returns the reply text. An empty reply means the backend answered
// without content.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) (string, error)
}

// Store defines the interface for persisting the transcript and its metadata. Messages are returned in
// insertion order. Metadata returns nil for a missing key. Clear empties both messages and metadata
// atomically.
type Store interface {
	AddMessage(ctx context.Context, role models.Role, content string) (models.Message, error)
	Messages(ctx context.Context) ([]models.Message, error)
	Clear(ctx context.Context) error

	SetMetadata(ctx context.Context, key string, value any) error
	Metadata(ctx context.Context, key string) (json.RawMessage, error)
}

// QuickQuestion is a shortcut shown on the welcome screen. Submitting its title sends the question.
type QuickQuestion struct {
	Title    string `yaml:"title"`
	Question string `yaml:"question"`
}

// Config holds the static texts of the widget. Empty fields are replaced by the defaults below.
type Config struct {
	SystemPrompt   string
	Apology        string
	FallbackReply  string
	QuickQuestions []QuickQuestion
}

const (
	// DefaultSystemPrompt is the preamble sent ahead of every conversation.
	DefaultSystemPrompt = "당신은 FIFA 월드컵에 대한 전문적인 정보를 제공하는 어시스턴트입니다. " +
		"월드컵의 역사, 선수, 팀, 경기 결과 등에 대해 정확하고 유용한 정보를 제공해주세요. 한국어로 답변해주세요."
	// DefaultApology is shown and stored as the assistant turn when the backend call fails.
	DefaultApology = "죄송합니다. 응답을 가져오는 중 오류가 발생했습니다. 잠시 후 다시 시도해주세요."
	// DefaultFallbackReply replaces a reply the backend left empty.
	DefaultFallbackReply = "응답 내용을 받지 못했습니다. 질문을 바꿔서 다시 시도해주세요."

	errLoggerKey = "err"

	sessionIDKey = "session_id"
)

// DefaultQuickQuestions are the shortcuts shown on the welcome screen, in display order.
var DefaultQuickQuestions = []QuickQuestion{
	{Title: "월드컵 우승국", Question: "역대 FIFA 월드컵 우승국과 우승 횟수를 알려주세요."},
	{Title: "유명 선수", Question: "월드컵에서 활약한 유명한 선수들을 소개해주세요."},
	{Title: "최근 월드컵", Question: "2022년 카타르 월드컵에 대한 정보를 알려주세요."},
}

// Main handles the core functionality of the chat widget: rendering the transcript, running a turn
// against the LLM and clearing the conversation.
type Main struct {
	templates *template.Template

	store     Store
	assembler Assembler

	apology        string
	quickQuestions []QuickQuestion

	turns    prometheus.Counter
	failures *prometheus.CounterVec

	logger *slog.Logger
}

// NewMain creates a new Main instance with the provided LLM and Store implementations. It parses the
// required HTML templates from the embedded filesystem.
func NewMain(llm LLM, store Store, cfg Config, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		worldcupchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if cfg.QuickQuestions == nil {
		cfg.QuickQuestions = DefaultQuickQuestions
	}

	return Main{
		templates:      tmpl,
		store:          store,
		assembler:      NewAssembler(store, llm, cfg.SystemPrompt, cfg.FallbackReply),
		apology:        cfg.Apology,
		quickQuestions: cfg.QuickQuestions,
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "worldcupchat_turns_total",
			Help: "Number of user turns processed.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worldcupchat_turn_failures_total",
			Help: "Number of turns answered with the apology, by failure reason.",
		}, []string{"reason"}),
		logger: logger.With(slog.String("module", "main")),
	}, nil
}

// Collectors returns the metrics of m, for registration by the caller.
func (m Main) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.turns, m.failures}
}
