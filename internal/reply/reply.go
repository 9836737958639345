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

// Package reply synthesizes reply drafts for normalized messages.
//
// Generation delegates to an external language service when one is
// configured and falls back to a deterministic template otherwise.
// Absence or failure of the service is expected, not exceptional:
// composition never returns an error.
package reply

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mverdier/mailtriage/internal/message"

	"github.com/pkg/errors"
)

// Generator produces reply text through an external service.
type Generator interface {
	Generate(ctx context.Context, m *message.Message) (string, error)
}

// ErrUnavailable reports that no generation service is configured.
var ErrUnavailable = errors.New("generation service unavailable")

// Disabled is the Generator used when no service credential is
// configured.  It always reports unavailability, which routes every
// composition through the template fallback.
type Disabled struct{}

func (Disabled) Generate(ctx context.Context, m *message.Message) (string, error) {
	return "", ErrUnavailable
}

// Composer turns messages into reply drafts.
type Composer struct {
	gen Generator
	log *slog.Logger
}

func NewComposer(gen Generator, log *slog.Logger) *Composer {
	if gen == nil {
		gen = Disabled{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Composer{gen: gen, log: log}
}

// Compose returns a reply draft for m.  The delegated generator is
// tried first; on any failure the deterministic template is used.
// The result is always non-empty.
func (c *Composer) Compose(ctx context.Context, m *message.Message) string {
	text, err := c.gen.Generate(ctx, m)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	if err != nil && errors.Cause(err) != ErrUnavailable {
		c.log.Warn("reply generation failed, using template", "id", m.PermID, "error", err)
	}
	return Template(m)
}

// Template builds the deterministic fallback reply: a greeting from
// the sender's display name, a TL;DR line from the snippet (or the
// start of the body), a fixed request for more information and a
// signature placeholder.
func Template(m *message.Message) string {
	greeting := "Bonjour " + displayName(m.Sender) + ","

	summary := m.Snippet
	if summary == "" {
		summary = truncate(m.BodyText, 140)
	}
	tldr := strings.TrimSpace("TL;DR : " + summary)

	next := "N'hésite pas à me dire si tu as besoin d'informations supplémentaires."

	return greeting + "\n\n" + tldr + "\n\n" + next + "\n\nBien à vous,\n[Votre nom]"
}

// displayName extracts the human part of a "Name <address>" sender,
// defaulting to a collective greeting when there is none.
func displayName(sender string) string {
	name := sender
	if i := strings.Index(name, "<"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "à tous"
	}
	return name
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
