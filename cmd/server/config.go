package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/worldcup-chat/internal/handlers"
	"github.com/MegaGrindStone/worldcup-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port           string                   `yaml:"port"`
	DBPath         string                   `yaml:"dbPath"`
	LogLevel       string                   `yaml:"logLevel"`
	SystemPrompt   string                   `yaml:"systemPrompt"`
	Apology        string                   `yaml:"apology"`
	FallbackReply  string                   `yaml:"fallbackReply"`
	QuickQuestions []handlers.QuickQuestion `yaml:"quickQuestions"`
	LLM            llmConfig                `yaml:"llm"`
}

type endpointConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"baseURL"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string                 `yaml:"apiKey"`
	BaseURL       string                 `yaml:"baseURL"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string                 `yaml:"host"`
	Parameters    services.LLMParameters `yaml:"parameters"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

const defaultPort = "8080"

func defaultConfig() config {
	return config{
		Port:     defaultPort,
		LogLevel: "info",
		LLM:      &endpointConfig{Provider: "endpoint"},
	}
}

// loadConfig decodes the config file at path. A missing file yields the default config, which talks
// to the endpoint named by API_ENDPOINT.
func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string                   `yaml:"port"`
		DBPath         string                   `yaml:"dbPath"`
		LogLevel       string                   `yaml:"logLevel"`
		SystemPrompt   string                   `yaml:"systemPrompt"`
		Apology        string                   `yaml:"apology"`
		FallbackReply  string                   `yaml:"fallbackReply"`
		QuickQuestions []handlers.QuickQuestion `yaml:"quickQuestions"`
		LLM            map[string]any           `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	if c.Port == "" {
		c.Port = defaultPort
	}
	c.DBPath = rawConfig.DBPath
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Apology = rawConfig.Apology
	c.FallbackReply = rawConfig.FallbackReply
	c.QuickQuestions = rawConfig.QuickQuestions

	if rawConfig.LLM == nil {
		c.LLM = &endpointConfig{Provider: "endpoint"}
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "endpoint":
		llm = &endpointConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c config) handlersConfig() handlers.Config {
	return handlers.Config{
		SystemPrompt:   c.SystemPrompt,
		Apology:        c.Apology,
		FallbackReply:  c.FallbackReply,
		QuickQuestions: c.QuickQuestions,
	}
}

func (e endpointConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	baseURL := e.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("API_ENDPOINT")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("endpoint base url is required, set llm.baseURL or API_ENDPOINT")
	}
	return services.NewEndpoint(baseURL, logger), nil
}

func (o openaiConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (o ollamaConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters, logger)
}

func (a anthropicConfig) llm(logger *slog.Logger) (handlers.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.BaseURL, a.Model, a.MaxTokens, logger), nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		l = slog.LevelInfo
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}
