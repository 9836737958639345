// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/mverdier/mailtriage/internal/message"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pkg/errors"
)

const (
	defaultModel = "gpt-4o-mini"

	// Character budget for the message body inside the prompt.
	promptBodyBudget = 2000

	replyMaxTokens   = 240
	replyTemperature = 0.3

	systemPrompt = "You are a helpful executive assistant. Provide concise, " +
		"polite replies that include a TL;DR sentence and, when helpful, " +
		"a single clarifying question."
)

// OpenAI is the Generator backed by the OpenAI chat completions API.
type OpenAI struct {
	client   openai.Client
	model    string
	language string
}

// NewOpenAI builds a generator from an API key.  Model defaults to
// gpt-4o-mini and language to French, matching the template fallback.
func NewOpenAI(apiKey, model, language string) *OpenAI {
	if model == "" {
		model = defaultModel
	}
	if language == "" {
		language = "French"
	}
	return &OpenAI{
		client:   openai.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		language: language,
	}
}

func (g *OpenAI) Generate(ctx context.Context, m *message.Message) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(g.prompt(m)),
		},
		MaxTokens:   openai.Int(replyMaxTokens),
		Temperature: openai.Float(replyTemperature),
	})
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion")
	}
	return text, nil
}

func (g *OpenAI) prompt(m *message.Message) string {
	body := m.BodyText
	if body == "" {
		body = m.Snippet
	}
	return fmt.Sprintf(
		"Email subject: %s\nFrom: %s\nSummary/snippet: %s\nBody: %s\n"+
			"Compose a brief and polite reply in %s, include a TL;DR sentence "+
			"and one clarifying question if more information is required.",
		m.Subject, m.Sender, m.Snippet, truncate(body, promptBodyBudget), g.language)
}
