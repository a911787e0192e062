package llm

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/bugs.yaml
var defaultSpec []byte

// PromptSpec is the fixed part of every analysis prompt: what to look for,
// what to ignore and the output contract.
type PromptSpec struct {
	System   string   `yaml:"system"`
	Task     string   `yaml:"task"`
	Consider []string `yaml:"consider"`
	Exclude  []string `yaml:"exclude"`
	Output   string   `yaml:"output"`
	Style    struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"style"`
}

// LoadPromptSpec returns the embedded spec, overlaid with the YAML file at
// path when one is given. Keys missing from the file keep their defaults.
func LoadPromptSpec(path string) (PromptSpec, error) {
	var spec PromptSpec
	if err := yaml.Unmarshal(defaultSpec, &spec); err != nil {
		return PromptSpec{}, fmt.Errorf("parse embedded prompt spec: %w", err)
	}
	if path == "" {
		return spec, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return PromptSpec{}, err
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return PromptSpec{}, fmt.Errorf("parse prompt spec %s: %w", path, err)
	}
	return spec, nil
}

// Instructions renders the task block that follows the diffs in a prompt.
func (s PromptSpec) Instructions() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s.Task))
	b.WriteString("\n\nBug categories to consider:\n")
	for _, c := range s.Consider {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nDo not report:\n")
	for _, c := range s.Exclude {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(s.Output))
	b.WriteString("\n")
	return b.String()
}

// Model turns a prompt into free-form text.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIModel implements Model with a single chat completion per call.
type OpenAIModel struct {
	client  *openai.Client
	model   string
	spec    PromptSpec
	timeout time.Duration
}

// NewOpenAIModel builds a model client. baseURL may point at any
// OpenAI-compatible endpoint; empty means the OpenAI default.
func NewOpenAIModel(apiKey, baseURL, model string, spec PromptSpec) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		spec:    spec,
		timeout: 3 * time.Minute,
	}
}

func (m *OpenAIModel) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := m.spec.Style.Temperature
	if temperature <= 0 {
		temperature = 0.1
	}
	maxTok := m.spec.Style.MaxTokens
	if maxTok <= 0 {
		maxTok = 2000
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: m.spec.System},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: temperature,
		MaxTokens:   maxTok,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
