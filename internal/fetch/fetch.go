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

// Package fetch lists and hydrates inbox messages into normalized
// records.
//
// The failure model is deliberately asymmetric and must stay that
// way: a failed listing call aborts the whole cycle with
// ErrProviderUnavailable and no partial list, while a failed
// per-message hydration is logged and skipped, and a failed thread
// lookup degrades to a thread size of 1.
package fetch

import (
	"context"
	"log/slog"
	"net/mail"
	"sort"
	"sync"
	"time"

	"github.com/mverdier/mailtriage/internal/body"
	"github.com/mverdier/mailtriage/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// Subject placeholder for messages that carry no Subject
	// header at all.
	missingSubject = "(Sans objet)"

	defaultConcurrency = 4
)

// ErrProviderUnavailable reports that the listing call itself failed
// (auth, network, quota).  Callers never receive a partial listing.
var ErrProviderUnavailable = errors.New("mail provider unavailable")

// Provider is the set of remote capabilities the fetcher consumes.
type Provider interface {
	// ListMessages returns one page of message identifiers
	// received after the given time, plus a continuation token,
	// empty on the last page.
	ListMessages(ctx context.Context, after time.Time, pageToken string) (*message.Page, error)

	// GetMessageDetail hydrates one identifier into headers,
	// labels, snippet and payload.
	GetMessageDetail(ctx context.Context, id string) (*message.Detail, error)

	// GetThreadSize returns the message count of a thread.
	GetThreadSize(ctx context.Context, threadID string) (int, error)
}

// Fetcher assembles normalized messages from a Provider.
type Fetcher struct {
	provider    Provider
	log         *slog.Logger
	concurrency int

	// now is the clock used for the lookback window and the
	// unparsable-date default.  Tests pin it.
	now func() time.Time
}

func New(p Provider, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		provider:    p,
		log:         log,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
}

// Recent returns the inbox messages received within the last `days`
// days, hydrated and sorted by date descending.
//
// All identifiers are accumulated across listing pages before any
// hydration starts.  Messages whose detail fetch fails are dropped
// from the result.  On cancellation mid-hydration the messages
// accumulated so far are returned alongside the context error.
func (f *Fetcher) Recent(ctx context.Context, days int) ([]*message.Message, error) {
	after := f.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	ids, err := f.listAll(ctx, after)
	if err != nil {
		return nil, err
	}
	f.log.Info("listed inbox messages", "count", len(ids), "days", days)

	msgs, err := f.hydrateAll(ctx, ids)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Date.After(msgs[j].Date)
	})
	return msgs, err
}

func (f *Fetcher) listAll(ctx context.Context, after time.Time) ([]message.ID, error) {
	var ids []message.ID
	pageToken := ""
	for {
		page, err := f.provider.ListMessages(ctx, after, pageToken)
		if err != nil {
			return nil, errors.Wrapf(ErrProviderUnavailable, "listing failed: %v", err)
		}
		ids = append(ids, page.IDs...)
		pageToken = page.NextPageToken
		if pageToken == "" {
			return ids, nil
		}
	}
}

func (f *Fetcher) hydrateAll(ctx context.Context, ids []message.ID) ([]*message.Message, error) {
	grp, gctx := errgroup.WithContext(ctx)
	ch := make(chan message.ID)

	grp.Go(func() error {
		defer close(ch)
		for _, id := range ids {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ch <- id:
			}
		}
		return nil
	})

	var mu sync.Mutex
	var msgs []*message.Message
	for i := 0; i < f.concurrency; i++ {
		grp.Go(func() error {
			for id := range ch {
				m, err := f.hydrate(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					f.log.Warn("skipping message: hydration failed",
						"id", id.PermID, "error", err)
					continue
				}
				mu.Lock()
				msgs = append(msgs, m)
				mu.Unlock()
			}
			return nil
		})
	}

	err := grp.Wait()
	return msgs, err
}

func (f *Fetcher) hydrate(ctx context.Context, id message.ID) (*message.Message, error) {
	if id.PermID == "" {
		return nil, errors.New("empty message id")
	}
	d, err := f.provider.GetMessageDetail(ctx, id.PermID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New("provider returned no detail")
	}

	m := f.normalize(d)
	m.ThreadSize = f.threadSize(ctx, d.ThreadID)
	return m, nil
}

// normalize flattens a raw detail record into the canonical Message.
// Header lookup is case-insensitive; a missing subject gets a fixed
// placeholder and an unparsable date degrades to now.  Both defaults
// are deliberate best-effort behavior, not validation failures.
func (f *Fetcher) normalize(d *message.Detail) *message.Message {
	subject := d.Headers.Get("Subject")
	if subject == "" {
		subject = missingSubject
	}

	to := d.Headers.Get("To")
	cc := d.Headers.Get("Cc")
	text, html := body.Extract(d.Payload)

	m := &message.Message{
		ID:       d.ID,
		Subject:  subject,
		Sender:   d.Headers.Get("From"),
		Date:     f.parseDate(d.Headers.Get("Date"), d.InternalDate),
		Snippet:  d.Snippet,
		Labels:   d.LabelIDs,
		CcOnly:   cc != "" && to == "",
		BodyText: text,
		BodyHTML: html,
		To:       to,
		Cc:       cc,
	}
	m.Unread = m.HasLabel("UNREAD")
	m.Starred = m.HasLabel("STARRED")
	m.Important = m.HasLabel("IMPORTANT") || m.HasLabel("CATEGORY_PERSONAL")
	return m
}

// Date header layouts seen in the wild that net/mail rejects.
var fallbackDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
}

// parseDate resolves the receive time of a message: the Date header
// when it parses, the provider's internal timestamp when it does not,
// and the current time as a last resort.
func (f *Fetcher) parseDate(value string, internalDate int64) time.Time {
	if value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			return t.UTC()
		}
		for _, layout := range fallbackDateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC()
			}
		}
		f.log.Warn("unparsable date header", "value", value)
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate).UTC()
	}
	return f.now().UTC()
}

func (f *Fetcher) threadSize(ctx context.Context, threadID string) int {
	if threadID == "" {
		return 1
	}
	n, err := f.provider.GetThreadSize(ctx, threadID)
	if err != nil || n < 1 {
		if err != nil {
			f.log.Debug("thread lookup degraded", "thread", threadID, "error", err)
		}
		return 1
	}
	return n
}
