// Package llm sends regulation text to a chat-completion model and decodes
// the subject/paper mapping it answers with.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dtnitsch/regscrape/models"
	openai "github.com/sashabaranov/go-openai"
)

// ErrUnparseable marks a reply that is not a JSON subject mapping. The raw
// text is kept on the returned *ReplyError.
var ErrUnparseable = errors.New("model reply is not a valid mapping")

// ReplyError carries the model text that failed to decode.
type ReplyError struct {
	Reply string
	Err   error
}

func (e *ReplyError) Error() string { return fmt.Sprintf("%v: %v", ErrUnparseable, e.Err) }
func (e *ReplyError) Unwrap() error { return ErrUnparseable }

// Completer is the single call the extraction stage needs from a model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAI implements Completer with the chat-completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg models.LLMConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

// Complete sends one system and one user message and returns the first choice.
// Every call is a fresh conversation.
func (o *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Extractor turns a regulation fragment into a subject mapping.
type Extractor struct {
	completer Completer
	system    string
	prompt    string
}

func NewExtractor(c Completer, cfg models.LLMConfig) *Extractor {
	return &Extractor{completer: c, system: cfg.SystemPrompt, prompt: cfg.Prompt}
}

// BuildInstructions appends the fragment to the prompt inside a code fence.
func (e *Extractor) BuildInstructions(portion string) string {
	return e.prompt + "```\n" + portion + "\n```"
}

// Extract makes exactly one model call. A transport failure is returned as
// is; a reply that does not decode yields a *ReplyError.
func (e *Extractor) Extract(ctx context.Context, portion string) (models.SubjectPaperMapping, error) {
	reply, err := e.completer.Complete(ctx, e.system, e.BuildInstructions(portion))
	if err != nil {
		return nil, err
	}
	return ParseMapping(reply)
}

// ParseMapping decodes a model reply. Only a JSON object is accepted.
func ParseMapping(reply string) (models.SubjectPaperMapping, error) {
	var mapping models.SubjectPaperMapping
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &mapping); err != nil {
		return nil, &ReplyError{Reply: reply, Err: err}
	}
	if mapping == nil {
		return nil, &ReplyError{Reply: reply, Err: errors.New("null mapping")}
	}
	return mapping, nil
}
