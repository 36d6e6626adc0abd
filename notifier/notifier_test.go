package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/pauldest/newsdigest/config"
	"github.com/pauldest/newsdigest/models"
)

func testDigest() models.Digest {
	return models.Digest{
		Date:         time.Date(2026, 8, 5, 9, 0, 0, 0, time.UTC),
		DailySummary: "A quiet day with one exception.",
		TopPicks: []models.DigestItem{{
			ID:      "u1",
			Title:   `Vendor <script>alert("x")</script> ships update`,
			URL:     "http://example.com/story",
			Source:  "Example Wire",
			Summary: `Contains <b>markup</b> & "quotes"`,
			Score:   8.4,
		}},
		QuickReads: []models.DigestItem{{
			ID: "u2", Title: "Minor release", URL: "http://example.com/minor", Score: 5.5,
		}},
		TotalFetched: 10, TotalAnalyzed: 4, TotalFiltered: 2,
	}
}

func newTestNotifier(recipients []string, send sendFunc) *Notifier {
	n := New(config.EmailConfig{
		SMTPHost: "localhost", SMTPPort: 2525,
		FromAddr: "digest@example.com", FromName: "Digest",
		ToAddrs: recipients,
	}, "", nil)
	n.send = send
	n.sleep = func(context.Context, time.Duration) error { return nil }
	return n
}

func TestRenderEscapesDynamicText(t *testing.T) {
	n := newTestNotifier([]string{"a@x"}, nil)
	html, err := n.render(testDigest())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("dynamic text must be escaped")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Fatalf("escaped title must appear in output")
	}
	if !strings.Contains(html, "2026-08-05") {
		t.Fatalf("digest date missing from output")
	}
}

func TestSubjectContainsISODate(t *testing.T) {
	var subjects []string
	var mu sync.Mutex
	n := newTestNotifier([]string{"a@x"}, func(_ context.Context, msg *mail.Msg) error {
		mu.Lock()
		subjects = append(subjects, msg.GetGenHeader(mail.HeaderSubject)...)
		mu.Unlock()
		return nil
	})
	if ok := n.SendDigest(context.Background(), testDigest(), nil); !ok {
		t.Fatalf("send must succeed")
	}
	if len(subjects) != 1 || subjects[0] != "AI Digest - 2026-08-05" {
		t.Fatalf("subject must be the literal prefix plus ISO date: %v", subjects)
	}
}

func TestPerRecipientIsolation(t *testing.T) {
	attempts := map[string]int{}
	var mu sync.Mutex
	send := func(_ context.Context, msg *mail.Msg) error {
		tos, _ := msg.GetRecipients()
		if len(tos) != 1 {
			return errors.New("each message must carry exactly one recipient")
		}
		mu.Lock()
		attempts[tos[0]]++
		mu.Unlock()
		if tos[0] == "b@x" {
			return errors.New("timeout")
		}
		return nil
	}

	n := newTestNotifier([]string{"a@x", "b@x", "c@x"}, send)
	ok := n.SendDigest(context.Background(), testDigest(), nil)
	if !ok {
		t.Fatalf("send must report success when some recipients are reached")
	}
	if attempts["a@x"] != 1 || attempts["c@x"] != 1 {
		t.Fatalf("healthy recipients must receive exactly one message: %v", attempts)
	}
	if attempts["b@x"] != smtpAttempts {
		t.Fatalf("failing recipient must be retried %d times, got %d", smtpAttempts, attempts["b@x"])
	}
}

func TestAllRecipientsFailing(t *testing.T) {
	n := newTestNotifier([]string{"a@x", "b@x"}, func(context.Context, *mail.Msg) error {
		return errors.New("smtp down")
	})
	if ok := n.SendDigest(context.Background(), testDigest(), nil); ok {
		t.Fatalf("send must fail only when every recipient fails")
	}
}

func TestNoRecipients(t *testing.T) {
	n := newTestNotifier(nil, func(context.Context, *mail.Msg) error { return nil })
	if ok := n.SendDigest(context.Background(), testDigest(), nil); ok {
		t.Fatalf("no recipients must report failure")
	}
}

func TestChartEmbeddedWhenProvided(t *testing.T) {
	var embedded bool
	n := newTestNotifier([]string{"a@x"}, func(_ context.Context, msg *mail.Msg) error {
		embedded = len(msg.GetEmbeds()) == 1
		return nil
	})
	png := []byte{0x89, 'P', 'N', 'G'}
	if ok := n.SendDigest(context.Background(), testDigest(), png); !ok {
		t.Fatalf("send must succeed")
	}
	if !embedded {
		t.Fatalf("chart bytes must be embedded inline")
	}
}
