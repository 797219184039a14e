package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"chat-sync/internal/models"
)

// Mode selects the tone the coach optimizes for.
type Mode string

const (
	ModeWork  Mode = "work"
	ModeChill Mode = "chill"
	ModeLove  Mode = "love"
)

// Window is the number of trailing messages sent for analysis.
const Window = 10

var (
	ErrNotConfigured = errors.New("coach is not configured")
	ErrInvalidMode   = errors.New("invalid coach mode")
	ErrNoHistory     = errors.New("no messages to analyze")
	ErrBadResponse   = errors.New("coach returned an unusable response")
)

var modeNotes = map[Mode]string{
	ModeWork:  "Keep it professional and efficient; suggestions mix polite conversation with substance.",
	ModeChill: "Keep it casual and low-pressure; suggestions are relaxed and playful.",
	ModeLove:  "Focus on warmth and connection; suggestions are affectionate or flirtatious.",
}

// ParseMode maps an empty value to chill.
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" {
		return ModeChill, nil
	}
	if _, ok := modeNotes[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return m, nil
}

type Request struct {
	PartnerName string
	Mode        Mode
	Instruction string
	Style       string
	Messages    []models.CoachTurn
}

type Insights struct {
	InterestScore int      `json:"interestScore"`
	Vibe          string   `json:"vibe"`
	RedFlags      []string `json:"redFlags"`
	GreenFlags    []string `json:"greenFlags"`
	Icebreaker    string   `json:"icebreaker"`
	Summary       []string `json:"summary"`
	Suggestions   []string `json:"suggestions"`
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client asks an OpenAI-compatible chat completion API for conversation
// insights.
type Client struct {
	api   *openai.Client
	model string
}

// New returns a client, or nil when no API key is set. A nil client answers
// every call with ErrNotConfigured.
func New(cfg Config) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}
}

func (c *Client) Analyze(ctx context.Context, req Request) (Insights, error) {
	if c == nil {
		return Insights{}, ErrNotConfigured
	}
	if req.Mode == "" {
		req.Mode = ModeChill
	}
	if _, ok := modeNotes[req.Mode]; !ok {
		return Insights{}, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if len(req.Messages) == 0 {
		return Insights{}, ErrNoHistory
	}
	if len(req.Messages) > Window {
		req.Messages = req.Messages[len(req.Messages)-Window:]
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return Insights{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.7,
		MaxTokens:   1024,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Insights{}, fmt.Errorf("coach completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Insights{}, ErrBadResponse
	}

	var out Insights
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return Insights{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	out.InterestScore = clamp(out.InterestScore, 0, 100)
	return out, nil
}

func buildPrompt(req Request) (string, error) {
	history, err := json.Marshal(req.Messages)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You coach the user through a chat with %q. %s\n", req.PartnerName, modeNotes[req.Mode])
	fmt.Fprintf(&b, "Recent messages, oldest first (role user is the person you coach):\n%s\n", history)
	if req.Instruction != "" {
		fmt.Fprintf(&b, "The user asks for this in their next reply: %q.\n", req.Instruction)
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Write every suggestion in a %q style.\n", req.Style)
	}
	b.WriteString(`Answer with one JSON object: {"interestScore": 0-100, "vibe": "at most five words", ` +
		`"redFlags": [up to 2], "greenFlags": [up to 2], "icebreaker": "one topic", ` +
		`"summary": [3 short points], "suggestions": [3 replies]}`)
	return b.String(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
