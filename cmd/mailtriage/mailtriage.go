// The mailtriage command fetches the recent inbox, scores each
// message with the triage heuristics and renders the result.  It can
// also compose reply drafts and save them to GMail.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mverdier/mailtriage/internal/config"
	"github.com/mverdier/mailtriage/internal/fetch"
	"github.com/mverdier/mailtriage/internal/gmail"
	"github.com/mverdier/mailtriage/internal/gmailhttp"
	"github.com/mverdier/mailtriage/internal/message"
	"github.com/mverdier/mailtriage/internal/persist"
	"github.com/mverdier/mailtriage/internal/reply"
	"github.com/mverdier/mailtriage/internal/score"
	"github.com/mverdier/mailtriage/internal/tracehttp"

	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

var (
	flagTrace    = flag.Bool("T", false, "request debug tracing")
	flagConfig   = flag.String("config", "", "path to the config file")
	flagDays     = flag.Int("days", 0, "override the lookback window in days")
	flagMinScore = flag.Int("min-score", -1, "override the minimum score filter")
	flagSearch   = flag.String("search", "", "only show messages matching this term")
	flagSort     = flag.String("sort", "score", "sort order: score or date")
	flagReply    = flag.String("reply", "", "compose a reply for this message id")
	flagDraft    = flag.Bool("draft", false, "with -reply, save the reply as a GMail draft")
	flagToggle   = flag.String("toggle-reply", "", "toggle the must-reply marker for this message id")
	flagBulk     = flag.Bool("bulk", false, "compose replies for the top scored messages")
)

type scored struct {
	msg     *message.Message
	score   int
	reasons []string
}

func run(ctx context.Context, log *slog.Logger) error {
	path := *flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}
	if *flagDays > 0 {
		cfg.LookbackDays = *flagDays
	}
	if *flagMinScore >= 0 {
		cfg.MinScore = *flagMinScore
	}

	markers, err := persist.Open(ctx, cfg.MarkersPath)
	if err != nil {
		return errors.Wrap(err, "unable to open marker database")
	}
	defer markers.Close()

	if *flagToggle != "" {
		on, err := markers.Toggle(ctx, *flagToggle)
		if err != nil {
			return errors.Wrap(err, "unable to toggle must-reply marker")
		}
		if on {
			fmt.Printf("Marked %s as must-reply.\n", *flagToggle)
		} else {
			fmt.Printf("Unmarked %s.\n", *flagToggle)
		}
		return nil
	}

	scopes := []string{gmail.ReadonlyScope}
	if cfg.Compose {
		scopes = append(scopes, gmail.ComposeScope)
	}
	client, err := gmailhttp.New(ctx, cfg.CredentialsPath, cfg.TokenPath, scopes...)
	if err != nil {
		return errors.Wrap(err, "unable to initialize GMail HTTP client")
	}
	svc, err := gmail.New(ctx, client, cfg.Compose)
	if err != nil {
		return errors.Wrap(err, "unable to initialize GMail")
	}

	fetcher := fetch.New(svc, log)
	msgs, err := fetcher.Recent(ctx, cfg.LookbackDays)
	if err != nil {
		return errors.Wrap(err, "unable to fetch inbox")
	}
	if len(msgs) == 0 {
		fmt.Printf("No messages in the last %d days.\n", cfg.LookbackDays)
		return nil
	}

	now := time.Now().UTC()
	var items []scored
	for _, m := range msgs {
		s, reasons := score.Evaluate(m, now)
		items = append(items, scored{msg: m, score: s, reasons: reasons})
	}

	var gen reply.Generator = reply.Disabled{}
	if cfg.OpenAI.APIKey != "" {
		gen = reply.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.Language)
	}
	composer := reply.NewComposer(gen, log)

	if *flagReply != "" {
		return composeOne(ctx, svc, composer, items, *flagReply, *flagDraft)
	}

	items = filter(items, cfg.MinScore, *flagSearch)
	sortItems(items, *flagSort)

	set, err := markers.All(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to load must-reply markers")
	}
	render(items, set)

	if *flagBulk {
		renderBulk(ctx, composer, items, cfg.BulkTopN)
	}
	return nil
}

func composeOne(ctx context.Context, svc *gmail.Service, composer *reply.Composer, items []scored, id string, saveDraft bool) error {
	for _, it := range items {
		if it.msg.PermID != id {
			continue
		}
		text := composer.Compose(ctx, it.msg)
		fmt.Printf("Reply draft for %q:\n\n%s\n", it.msg.Subject, text)
		if !saveDraft {
			return nil
		}
		draftID, err := svc.CreateDraft(ctx, it.msg, text)
		if err != nil {
			if errors.Cause(err) == gmail.ErrComposeDisabled {
				return errors.New("draft not saved: compose scope disabled in configuration")
			}
			return errors.Wrap(err, "draft not saved; you may retry")
		}
		fmt.Printf("\nDraft saved (ID: %s)\n", draftID)
		return nil
	}
	return errors.Errorf("message %q not found in the current window", id)
}

func filter(items []scored, minScore int, search string) []scored {
	search = strings.ToLower(search)
	var out []scored
	for _, it := range items {
		if it.score < minScore {
			continue
		}
		if search != "" {
			haystack := strings.ToLower(it.msg.Subject + " " + it.msg.Sender + " " + it.msg.Snippet)
			if !strings.Contains(haystack, search) {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func sortItems(items []scored, order string) {
	if order == "date" {
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].msg.Date.After(items[j].msg.Date)
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
}

func render(items []scored, mustReply map[string]bool) {
	fmt.Printf("%d messages match.\n\n", len(items))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tDATE\tFROM\tSUBJECT\tREASONS")
	for _, it := range items {
		marker := ""
		if mustReply[it.msg.PermID] {
			marker = " *"
		}
		fmt.Fprintf(w, "%d%s\t%s\t%s\t%s\t%s\n",
			it.score, marker,
			it.msg.Date.Local().Format("02 Jan 15:04"),
			clip(it.msg.Sender, 32),
			clip(it.msg.Subject, 48),
			strings.Join(it.reasons, ", "))
	}
	w.Flush()
}

func renderBulk(ctx context.Context, composer *reply.Composer, items []scored, count int) {
	top := make([]scored, len(items))
	copy(top, items)
	sort.SliceStable(top, func(i, j int) bool { return top[i].score > top[j].score })
	if len(top) > count {
		top = top[:count]
	}

	fmt.Printf("\nBulk mode: suggested replies for the top %d messages\n", len(top))
	for _, it := range top {
		fmt.Printf("\n--- %s (score %d)\n%s\n", it.msg.Subject, it.score,
			composer.Compose(ctx, it.msg))
	}
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func main() {
	flag.Parse()
	opts := &slog.HandlerOptions{}
	if *flagTrace {
		// Request dumps log at debug level; -T asks for them.
		opts.Level = slog.LevelDebug
		tracehttp.WrapDefaultTransport()
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
