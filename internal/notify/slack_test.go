package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/reconciler"
	"github.com/rs/zerolog"
)

func makeEvent() Event {
	return Event{
		Environment:      "staging",
		Kind:             deployment.KindBackend,
		ServiceName:      "aura-backend-service",
		Outcome:          reconciler.OutcomeUpdated,
		Revision:         7,
		PreviousRevision: 6,
		PublicAddress:    "203.0.113.10",
	}
}

func TestBuildSlackMessage(t *testing.T) {
	msg := buildSlackMessage(makeEvent())

	if !strings.Contains(msg.Text, "staging") {
		t.Fatalf("expected summary to include environment, got %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "aura-backend-service") {
		t.Fatalf("expected summary to include service, got %q", msg.Text)
	}
	if msg.Blocks == nil {
		t.Fatalf("expected blocks to be set")
	}
	if len(msg.Blocks.BlockSet) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(msg.Blocks.BlockSet))
	}
}

func TestBuildSlackMessageWithError(t *testing.T) {
	event := makeEvent()
	event.Outcome = reconciler.OutcomeFailed
	event.Err = errors.New("register task definition: quota exceeded")

	msg := buildSlackMessage(event)
	if !strings.Contains(msg.Text, ":warning:") {
		t.Fatalf("expected warning marker in summary, got %q", msg.Text)
	}
}

func TestNewSlackNotifierWithoutWebhook(t *testing.T) {
	notifier := NewSlackNotifier(zerolog.New(io.Discard), "")
	if _, ok := notifier.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", notifier)
	}
	if err := notifier.Notify(context.Background(), makeEvent()); err != nil {
		t.Fatalf("noop notify: %v", err)
	}
}

func TestSlackNotifierRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := atomic.AddInt32(&calls, 1)
		if count <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := zerolog.New(io.Discard)
	notifier := NewSlackNotifier(logger, server.URL,
		WithSlackTiming(time.Millisecond, 1, 5*time.Millisecond, 10*time.Millisecond, 50*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := notifier.Notify(ctx, makeEvent()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSlackNotifierRetryAfterError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	logger := zerolog.New(io.Discard)
	notifier := NewSlackNotifier(logger, server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)
	slackNotifier, ok := notifier.(*SlackNotifier)
	if !ok {
		t.Fatalf("expected SlackNotifier, got %T", notifier)
	}

	err := slackNotifier.postOnce(context.Background(), []byte(`{}`))
	var retryAfterErr *retryAfterError
	if !errors.As(err, &retryAfterErr) {
		t.Fatalf("expected retry-after error, got %v", err)
	}
	if retryAfterErr.Duration != time.Second {
		t.Fatalf("expected 1s retry-after, got %s", retryAfterErr.Duration)
	}
}

func TestSlackNotifierPermanentClientError(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer server.Close()

	logger := zerolog.New(io.Discard)
	notifier := NewSlackNotifier(logger, server.URL,
		WithSlackTiming(time.Millisecond, 1, time.Millisecond, 2*time.Millisecond, 20*time.Millisecond),
	)

	err := notifier.Notify(context.Background(), makeEvent())
	if err == nil || !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected permanent failure with body, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt for a 4xx, got %d", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{name: "empty", value: "", ok: false},
		{name: "seconds", value: "3", want: 3 * time.Second, ok: true},
		{name: "zero seconds", value: "0", ok: false},
		{name: "garbage", value: "soon", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tc.value)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if tc.ok && got != tc.want {
				t.Fatalf("duration = %s, want %s", got, tc.want)
			}
		})
	}
}
