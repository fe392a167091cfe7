package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
)

func setupTestOutbox(t *testing.T) (*Outbox, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	outbox, err := NewOutbox("redis://"+s.Addr(), "test:outbox")
	if err != nil {
		t.Fatalf("failed to create outbox: %v", err)
	}
	t.Cleanup(func() { _ = outbox.Close() })
	return outbox, s
}

func TestNewOutboxRejectsBadURL(t *testing.T) {
	if _, err := NewOutbox("not a url", ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOutboxIsFIFO(t *testing.T) {
	outbox, _ := setupTestOutbox(t)
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if err := outbox.Send(ctx, Message{ID: id, RecipientID: "acct_1", Title: "Kiln emission alert"}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if n, err := outbox.Len(ctx); err != nil || n != 3 {
		t.Fatalf("expected 3 queued, got %d err=%v", n, err)
	}

	for _, want := range []string{"n1", "n2", "n3"} {
		msg, ok, err := outbox.Receive(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("Receive failed: ok=%v err=%v", ok, err)
		}
		if msg.ID != want {
			t.Fatalf("expected %s, got %s", want, msg.ID)
		}
		if msg.CreatedAt.IsZero() {
			t.Fatal("expected CreatedAt to be stamped")
		}
	}
}

func TestOutboxReceiveTimesOut(t *testing.T) {
	outbox, _ := setupTestOutbox(t)

	_, ok, err := outbox.Receive(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if ok {
		t.Fatal("expected empty outbox to time out")
	}
}

func TestOutboxStoresUnderConfiguredKey(t *testing.T) {
	outbox, s := setupTestOutbox(t)
	if err := outbox.Send(context.Background(), Message{ID: "n1"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !s.Exists("test:outbox") {
		t.Fatal("expected list at test:outbox")
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []Message
	failures int
	cancel   context.CancelFunc
}

func (q *fakeQueue) Receive(ctx context.Context, _ time.Duration) (Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return Message{}, false, errors.New("connection refused")
	}
	if len(q.messages) == 0 {
		q.cancel()
		return Message{}, false, nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, true, nil
}

type fakeMailer struct {
	configured bool
	sent       []string
	err        error
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }
func (m *fakeMailer) SendNotification(to, _, title, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, to+"|"+title)
	return nil
}

func newTestDispatcher(q *fakeQueue, mailer *fakeMailer) *Dispatcher {
	return &Dispatcher{
		queue:  q,
		mailer: mailer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		wait:   time.Millisecond,
		backoff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
}

func TestDispatcherDeliversAndSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &fakeQueue{
		failures: 2,
		cancel:   cancel,
		messages: []Message{
			{ID: "n1", RecipientEmail: "owner@example.com", Title: "Kiln approved for burning"},
			{ID: "n2", RecipientEmail: "", Title: "No address"},
			{ID: "n3", RecipientEmail: "leader@example.com", Title: "Kiln emission alert (leader)"},
		},
	}
	mailer := &fakeMailer{configured: true}

	if err := newTestDispatcher(q, mailer).Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(mailer.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", mailer.sent)
	}
	if mailer.sent[0] != "owner@example.com|Kiln approved for burning" {
		t.Fatalf("unexpected first delivery %q", mailer.sent[0])
	}
}

func TestDispatcherSwallowsDeliveryErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &fakeQueue{cancel: cancel, messages: []Message{{ID: "n1", RecipientEmail: "a@example.com"}}}
	mailer := &fakeMailer{configured: true, err: errors.New("smtp down")}

	if err := newTestDispatcher(q, mailer).Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(q.messages) != 0 {
		t.Fatal("expected queue to be drained")
	}
}
