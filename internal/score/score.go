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

// Package score assigns a priority score to a normalized message.
//
// Scoring is pure: no I/O, no history, and the evaluation time is an
// explicit argument.  The rule order is a contract; downstream
// consumers display the reason list and compare it positionally.
package score

import (
	"strings"
	"time"

	"github.com/mverdier/mailtriage/internal/message"
)

const (
	weightUnread      = 25
	weightHumanSender = 15
	weightActionable  = 10
	weightLongThread  = 10
	weightFlagged     = 15
	weightRecent      = 10
	weightCcOnly      = -10
	weightNewsletter  = -20

	recentWindow = 48 * time.Hour
)

var (
	actionWords = []string{
		"urgent", "deadline", "action", "répond", "reply", "due", "please", "asap",
	}
	newsletterPatterns = []string{
		"unsubscribe", "newsletter", "no-reply", "noreply", "bulletin",
	}
)

// Evaluate computes the priority score for m at evaluation time now.
//
// Each triggered rule adds its weight and appends its reason; the
// running total is clamped to [0, 100] only at the end.  Reasons come
// back in rule order.
func Evaluate(m *message.Message, now time.Time) (int, []string) {
	total := 0
	var reasons []string

	if m.Unread {
		total += weightUnread
		reasons = append(reasons, "Non lu")
	}

	sender := strings.ToLower(m.Sender)
	if !strings.Contains(sender, "no-reply") && !strings.Contains(sender, "noreply") {
		total += weightHumanSender
		reasons = append(reasons, "Expéditeur humain")
	}

	blob := strings.ToLower(m.Subject + " " + m.Snippet + " " + m.BodyText)
	if strings.Contains(m.Subject, "?") || containsAny(blob, actionWords) {
		total += weightActionable
		reasons = append(reasons, "Contient une question ou action")
	}

	if strings.HasPrefix(strings.ToLower(m.Subject), "re:") && m.ThreadSize > 2 {
		total += weightLongThread
		reasons = append(reasons, "Long fil 'Re:'")
	}

	if m.Starred || m.Important {
		total += weightFlagged
		reasons = append(reasons, "Marqué important")
	}

	if now.Sub(m.Date) < recentWindow {
		total += weightRecent
		reasons = append(reasons, "Récent (<48h)")
	}

	if m.CcOnly {
		total += weightCcOnly
		reasons = append(reasons, "Uniquement en copie")
	}

	if containsAny(blob, newsletterPatterns) {
		total += weightNewsletter
		reasons = append(reasons, "Newsletter présumée")
	}

	return clamp(total), reasons
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
