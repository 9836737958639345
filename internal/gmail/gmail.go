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

// Package gmail adapts the GMail API to the capabilities the triage
// pipeline consumes: paginated inbox listing, per-message hydration,
// thread metadata and draft creation.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mverdier/mailtriage/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ReadonlyScope = gmail_api.GmailReadonlyScope
	ComposeScope  = gmail_api.GmailComposeScope

	user     = "me"
	pageSize = 100

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet  = 5
	quotaUnitsMessagesList = 5
	quotaUnitsThreadsGet   = 10
	quotaUnitsDraftsCreate = 10

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

var (
	// ErrComposeDisabled reports a draft request against a session
	// that was authenticated without the compose scope.  No remote
	// call is attempted in that case.
	ErrComposeDisabled = errors.New("gmail compose scope not enabled")

	// ErrDraftCreation reports a failed draft submission.
	// Recoverable: the caller may retry manually.  Draft creation
	// is the one mutating call in the pipeline and is never
	// retried automatically.
	ErrDraftCreation = errors.New("unable to create gmail draft")
)

// Service provides access to messages stored in Google's GMail
// system.
type Service struct {
	service        *gmail_api.Service
	limiter        *rate.Limiter
	composeEnabled bool
}

func New(ctx context.Context, client *http.Client, composeEnabled bool) (*Service, error) {
	s, err := gmail_api.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, err
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &Service{service: s, limiter: l, composeEnabled: composeEnabled}, nil
}

// ComposeEnabled reports whether the session may create drafts.
func (s *Service) ComposeEnabled() bool {
	return s.composeEnabled
}

// ListMessages returns one page of inbox message identifiers received
// after the given time.  The caller follows Page.NextPageToken until
// it comes back empty.
func (s *Service) ListMessages(ctx context.Context, after time.Time, pageToken string) (*message.Page, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesList); err != nil {
		return nil, err
	}
	call := gmail_api.NewUsersMessagesService(s.service).List(user).
		Context(ctx).
		LabelIds("INBOX").
		Q(fmt.Sprintf("after:%d", after.Unix())).
		MaxResults(pageSize)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, errors.Wrap(err, "unable to list inbox messages")
	}
	page := &message.Page{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, message.ID{PermID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

// GetMessageDetail hydrates one message identifier into its full
// detail: headers, labels, snippet and the MIME payload tree.
func (s *Service) GetMessageDetail(ctx context.Context, id string) (*message.Detail, error) {
	for {
		if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
			return nil, err
		}
		msg, err := gmail_api.NewUsersMessagesService(s.service).Get(user, id).
			Context(ctx).Format("full").Do()
		if err != nil {
			if isRateLimited(err) {
				continue // idempotent get, retry
			}
			return nil, errors.Wrapf(err, "getting message %v from gmail", id)
		}
		d := &message.Detail{
			ID:           message.ID{PermID: msg.Id, ThreadID: msg.ThreadId},
			LabelIDs:     msg.LabelIds,
			Snippet:      msg.Snippet,
			Payload:      convertPart(msg.Payload),
			InternalDate: msg.InternalDate,
		}
		if msg.Payload != nil {
			for _, h := range msg.Payload.Headers {
				d.Headers = append(d.Headers, message.Header{Name: h.Name, Value: h.Value})
			}
		}
		return d, nil
	}
}

// GetThreadSize returns the number of messages in a thread.  Only the
// count is needed, so the metadata format is requested.
func (s *Service) GetThreadSize(ctx context.Context, threadID string) (int, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsThreadsGet); err != nil {
		return 0, err
	}
	t, err := gmail_api.NewUsersThreadsService(s.service).Get(user, threadID).
		Context(ctx).Format("metadata").Do()
	if err != nil {
		return 0, errors.Wrapf(err, "getting thread %v from gmail", threadID)
	}
	return len(t.Messages), nil
}

// CreateDraft saves a reply to m as a GMail draft and returns the
// provider-assigned draft identifier.
func (s *Service) CreateDraft(ctx context.Context, m *message.Message, replyBody string) (string, error) {
	if !s.composeEnabled {
		return "", ErrComposeDisabled
	}
	if err := s.limiter.WaitN(ctx, quotaUnitsDraftsCreate); err != nil {
		return "", err
	}
	draft := &gmail_api.Draft{
		Message: &gmail_api.Message{
			Raw: encodeReply(m.Sender, m.Subject, replyBody),
		},
	}
	created, err := gmail_api.NewUsersDraftsService(s.service).Create(user, draft).
		Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(ErrDraftCreation, "%v", err)
	}
	return created.Id, nil
}

// encodeReply builds the minimal RFC 822 reply envelope and encodes
// it the way the drafts endpoint expects: URL-safe base64 over CRLF
// delimited headers, a blank line, then the body.
func encodeReply(to, subject, body string) string {
	headers := []string{
		"To: " + to,
		"Subject: Re: " + subject,
		"Content-Type: text/plain; charset=UTF-8",
	}
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + body
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func convertPart(p *gmail_api.MessagePart) *message.Part {
	if p == nil {
		return nil
	}
	out := &message.Part{MimeType: p.MimeType}
	if p.Body != nil {
		out.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		out.Parts = append(out.Parts, convertPart(child))
	}
	return out
}

func isRateLimited(err error) bool {
	if cause, ok := errors.Cause(err).(*googleapi.Error); ok {
		return cause.Code == http.StatusTooManyRequests
	}
	return false
}
