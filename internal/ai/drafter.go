package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/lexcollab/backend/internal/documents"
)

const draftingSystemInstruction = "You are a helpful legal assistant. Your goal is to help the user create a legal document.\n" +
	"- First, ask follow-up questions to gather all the necessary details.\n" +
	"- When you have enough information, generate the full legal document in a JSON format like this: " +
	"```json{\"type\": \"document\", \"text\": \"...your document here...\"}```.\n" +
	"- If the user asks to update some information, you must regenerate the **entire** document with the " +
	"updated information and provide the full document again in the same JSON format. " +
	"Do not just provide the updated line or a confirmation message."

const (
	// OutcomeDocument marks a completed draft carrying the full document body.
	OutcomeDocument = "document"
	// OutcomeQuestion marks a follow-up question to the user.
	OutcomeQuestion = "question"
)

var (
	// ErrMissingAPIKey indicates that no Gemini API key was configured.
	ErrMissingAPIKey = errors.New("ai: api key is required")
	// ErrEmptyTranscript indicates that the drafting transcript has no turns.
	ErrEmptyTranscript = errors.New("ai: transcript is empty")
	// ErrTimeout indicates that the drafting call exceeded its deadline.
	ErrTimeout = errors.New("ai: drafting timed out")
	// ErrUpstream indicates that the drafting service failed or returned malformed output.
	ErrUpstream = errors.New("ai: drafting service failed")

	noOpLogger = zap.NewNop()
)

// Outcome is the drafting result: either the full document text or a
// follow-up question for the user.
type Outcome struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DrafterConfig wires the drafting client.
type DrafterConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Drafter turns a chat transcript into legal document text via Gemini.
type Drafter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewDrafter constructs a drafting client.
func NewDrafter(ctx context.Context, cfg DrafterConfig) (*Drafter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Drafter{
		client:  client,
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Close releases the underlying client.
func (d *Drafter) Close() {
	if d.client != nil {
		if err := d.client.Close(); err != nil {
			d.logger.Warn("genai client close failed", zap.Error(err))
		}
	}
}

// Draft sends the transcript and classifies the reply as a finished document
// or a follow-up question. The call is bounded by the configured timeout; a
// late result is discarded with the expired context.
func (d *Drafter) Draft(ctx context.Context, messages []documents.Message) (Outcome, error) {
	if len(messages) == 0 {
		return Outcome{}, ErrEmptyTranscript
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	model := d.client.GenerativeModel(d.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(draftingSystemInstruction)},
	}

	history := make([]*genai.Content, 0, len(messages))
	for _, message := range messages {
		role := "model"
		if message.Sender == "user" {
			role = "user"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(message.Text)},
		})
	}

	session := model.StartChat()
	session.History = history[:len(history)-1]

	last := history[len(history)-1]
	response, err := session.SendMessage(callCtx, last.Parts...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return Outcome{}, fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
		}
		d.logger.Warn("gemini drafting call failed", zap.Error(err))
		return Outcome{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	text, err := responseText(response)
	if err != nil {
		return Outcome{}, err
	}

	return ParseOutcome(text)
}

// ParseOutcome classifies raw model text. A fenced json block holds the
// finished document payload; anything else is a follow-up question.
func ParseOutcome(text string) (Outcome, error) {
	const fence = "```json"
	if !strings.Contains(text, fence) {
		return Outcome{Type: OutcomeQuestion, Text: text}, nil
	}

	after := text[strings.Index(text, fence)+len(fence):]
	end := strings.Index(after, "```")
	if end < 0 {
		return Outcome{}, fmt.Errorf("%w: unterminated json block", ErrUpstream)
	}

	var outcome Outcome
	if err := json.Unmarshal([]byte(strings.TrimSpace(after[:end])), &outcome); err != nil {
		return Outcome{}, fmt.Errorf("%w: malformed document json: %v", ErrUpstream, err)
	}
	if outcome.Type == "" {
		outcome.Type = OutcomeDocument
	}
	return outcome, nil
}

func responseText(response *genai.GenerateContentResponse) (string, error) {
	if response == nil || len(response.Candidates) == 0 ||
		response.Candidates[0].Content == nil || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}

	var builder strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	if builder.Len() == 0 {
		return "", fmt.Errorf("%w: non-text response", ErrUpstream)
	}
	return builder.String(), nil
}
