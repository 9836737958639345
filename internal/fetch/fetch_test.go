package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mverdier/mailtriage/internal/message"

	"github.com/pkg/errors"
)

var pinnedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type stubProvider struct {
	pages     map[string]*message.Page
	listErr   error
	listCalls int

	details   map[string]*message.Detail
	detailErr map[string]error

	threadSizes map[string]int
	threadErr   error
}

func (p *stubProvider) ListMessages(ctx context.Context, after time.Time, pageToken string) (*message.Page, error) {
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	page, ok := p.pages[pageToken]
	if !ok {
		return nil, fmt.Errorf("unknown page token %q", pageToken)
	}
	return page, nil
}

func (p *stubProvider) GetMessageDetail(ctx context.Context, id string) (*message.Detail, error) {
	if err, ok := p.detailErr[id]; ok {
		return nil, err
	}
	d, ok := p.details[id]
	if !ok {
		return nil, fmt.Errorf("unknown message %q", id)
	}
	return d, nil
}

func (p *stubProvider) GetThreadSize(ctx context.Context, threadID string) (int, error) {
	if p.threadErr != nil {
		return 0, p.threadErr
	}
	if n, ok := p.threadSizes[threadID]; ok {
		return n, nil
	}
	return 1, nil
}

func newTestFetcher(p Provider) *Fetcher {
	f := New(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.now = func() time.Time { return pinnedNow }
	return f
}

func detailAt(id string, received time.Time) *message.Detail {
	return &message.Detail{
		ID: message.ID{PermID: id, ThreadID: "t-" + id},
		Headers: message.Headers{
			{Name: "Subject", Value: "msg " + id},
			{Name: "From", Value: "paul@example.com"},
			{Name: "To", Value: "me@example.com"},
			{Name: "Date", Value: received.Format(time.RFC1123Z)},
		},
	}
}

func TestRecentPagination(t *testing.T) {
	// Three pages of 100/100/7 identifiers: exactly three listing
	// calls, 207 hydrated messages, sorted by date descending.
	p := &stubProvider{
		pages:   map[string]*message.Page{},
		details: map[string]*message.Detail{},
	}
	sizes := []int{100, 100, 7}
	tokens := []string{"", "p1", "p2"}
	next := []string{"p1", "p2", ""}
	n := 0
	for i, size := range sizes {
		page := &message.Page{NextPageToken: next[i]}
		for j := 0; j < size; j++ {
			id := fmt.Sprintf("m%03d", n)
			page.IDs = append(page.IDs, message.ID{PermID: id, ThreadID: "t-" + id})
			p.details[id] = detailAt(id, pinnedNow.Add(-time.Duration(n)*time.Minute))
			n++
		}
		p.pages[tokens[i]] = page
	}

	f := newTestFetcher(p)
	msgs, err := f.Recent(context.Background(), 14)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if p.listCalls != 3 {
		t.Errorf("listing calls = %d, want 3", p.listCalls)
	}
	if len(msgs) != 207 {
		t.Errorf("len(msgs) = %d, want 207", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Date.After(msgs[i-1].Date) {
			t.Fatalf("messages not sorted by date descending at index %d", i)
		}
	}
}

func TestRecentListingFailure(t *testing.T) {
	p := &stubProvider{listErr: fmt.Errorf("quota exceeded")}
	f := newTestFetcher(p)

	msgs, err := f.Recent(context.Background(), 14)
	if errors.Cause(err) != ErrProviderUnavailable {
		t.Errorf("error cause = %v, want ErrProviderUnavailable", err)
	}
	if msgs != nil {
		t.Errorf("got %d messages with failed listing, want none", len(msgs))
	}
}

func TestRecentHydrationSkipped(t *testing.T) {
	p := &stubProvider{
		pages: map[string]*message.Page{
			"": {IDs: []message.ID{{PermID: "a"}, {PermID: "b"}, {PermID: "c"}}},
		},
		details: map[string]*message.Detail{
			"a": detailAt("a", pinnedNow.Add(-time.Hour)),
			"c": detailAt("c", pinnedNow.Add(-2*time.Hour)),
		},
		detailErr: map[string]error{"b": fmt.Errorf("backend error")},
	}
	f := newTestFetcher(p)

	msgs, err := f.Recent(context.Background(), 14)
	if err != nil {
		t.Fatalf("Recent: %v (per-message failure must not be fatal)", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.PermID == "b" {
			t.Errorf("message with failed hydration present in results")
		}
	}
}

func TestThreadLookupDegraded(t *testing.T) {
	p := &stubProvider{
		pages: map[string]*message.Page{
			"": {IDs: []message.ID{{PermID: "a", ThreadID: "t-a"}}},
		},
		details:   map[string]*message.Detail{"a": detailAt("a", pinnedNow.Add(-time.Hour))},
		threadErr: fmt.Errorf("thread backend down"),
	}
	f := newTestFetcher(p)

	msgs, err := f.Recent(context.Background(), 14)
	if err != nil {
		t.Fatalf("Recent: %v (thread lookup failure must not propagate)", err)
	}
	if len(msgs) != 1 || msgs[0].ThreadSize != 1 {
		t.Errorf("ThreadSize = %d, want degraded default 1", msgs[0].ThreadSize)
	}
}

func TestThreadSizeResolved(t *testing.T) {
	p := &stubProvider{
		pages: map[string]*message.Page{
			"": {IDs: []message.ID{{PermID: "a", ThreadID: "t-a"}}},
		},
		details:     map[string]*message.Detail{"a": detailAt("a", pinnedNow.Add(-time.Hour))},
		threadSizes: map[string]int{"t-a": 5},
	}
	f := newTestFetcher(p)

	msgs, err := f.Recent(context.Background(), 14)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if msgs[0].ThreadSize != 5 {
		t.Errorf("ThreadSize = %d, want 5", msgs[0].ThreadSize)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	f := newTestFetcher(&stubProvider{})
	d := &message.Detail{
		ID: message.ID{PermID: "x"},
		Headers: message.Headers{
			{Name: "from", Value: "paul@example.com"},
			{Name: "DATE", Value: "not a date at all"},
			{Name: "cc", Value: "me@example.com"},
		},
	}
	m := f.normalize(d)

	if m.Subject != "(Sans objet)" {
		t.Errorf("Subject = %q, want placeholder", m.Subject)
	}
	if m.Sender != "paul@example.com" {
		t.Errorf("Sender = %q; header lookup must be case-insensitive", m.Sender)
	}
	if !m.Date.Equal(pinnedNow) {
		t.Errorf("Date = %v, want pinned now for unparsable header", m.Date)
	}
	if !m.CcOnly {
		t.Errorf("CcOnly = false, want true for Cc without To")
	}
}

func TestNormalizeDerivedFlags(t *testing.T) {
	f := newTestFetcher(&stubProvider{})
	d := &message.Detail{
		ID:       message.ID{PermID: "x"},
		LabelIDs: []string{"UNREAD", "STARRED", "CATEGORY_PERSONAL"},
		Headers: message.Headers{
			{Name: "Subject", Value: "point budget"},
			{Name: "To", Value: "me@example.com"},
			{Name: "Date", Value: pinnedNow.Add(-time.Hour).Format(time.RFC1123Z)},
		},
	}
	m := f.normalize(d)

	if !m.Unread || !m.Starred || !m.Important {
		t.Errorf("flags = unread:%v starred:%v important:%v, want all true",
			m.Unread, m.Starred, m.Important)
	}
	if m.CcOnly {
		t.Errorf("CcOnly = true for a direct recipient")
	}
	if m.Date.Location() != time.UTC {
		t.Errorf("Date location = %v, want UTC", m.Date.Location())
	}
}

func TestParseDateLayouts(t *testing.T) {
	f := newTestFetcher(&stubProvider{})
	cases := []string{
		"Fri, 15 Mar 2024 10:30:00 +0100",
		"15 Mar 2024 10:30:00 +0100",
		"Fri, 15 Mar 2024 10:30:00 +0100 (CET)",
	}
	want := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	for _, value := range cases {
		got := f.parseDate(value, 0)
		if !got.Equal(want) {
			t.Errorf("parseDate(%q) = %v, want %v", value, got, want)
		}
		if got.Location() != time.UTC {
			t.Errorf("parseDate(%q) not normalized to UTC", value)
		}
	}
}

func TestParseDateInternalFallback(t *testing.T) {
	f := newTestFetcher(&stubProvider{})
	internal := time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)

	got := f.parseDate("not a date at all", internal.UnixMilli())
	if !got.Equal(internal) {
		t.Errorf("parseDate = %v, want provider timestamp %v", got, internal)
	}
	if got := f.parseDate("", 0); !got.Equal(pinnedNow) {
		t.Errorf("parseDate with nothing to go on = %v, want now", got)
	}
}
