package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aura-ops/aura-deploy/internal/reconciler"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts one Block Kit message per deployment event to an
// incoming webhook.
type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the
// webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if err := n.poster.waitForRateLimit(ctx, event.Environment); err != nil {
		return err
	}

	payload, err := json.Marshal(buildSlackMessage(event))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := n.poster.postWithRetry(ctx, payload); err != nil {
		return err
	}

	n.logger.Debug().
		Str("environment", event.Environment).
		Str("service", event.ServiceName).
		Str("outcome", string(event.Outcome)).
		Msg("slack notification sent")

	return nil
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func buildSlackMessage(event Event) slack.WebhookMessage {
	summary := fmt.Sprintf("%s deploy %s: %s %s", event.Environment, outcomeEmoji(event), event.ServiceName, event.Outcome)
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextBlock := slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Environment: *%s*", event.Environment), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Kind: *%s*", event.Kind), false, false),
	)

	blocks := []slack.Block{header, contextBlock, buildEventBlock(event)}
	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildEventBlock(event Event) slack.Block {
	title := fmt.Sprintf("*%s*: %s", event.ServiceName, event.Outcome)
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if event.Revision > 0 {
		revision := fmt.Sprintf("*Revision:*\n%d", event.Revision)
		if event.PreviousRevision > 0 {
			revision = fmt.Sprintf("*Revision:*\n%d → %d", event.PreviousRevision, event.Revision)
		}
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", revision, false, false))
	}
	if event.PublicAddress != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Address:*\n`%s`", event.PublicAddress), false, false))
	}
	if event.Err != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Error:*\n%s", event.Err), false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func outcomeEmoji(event Event) string {
	if event.Err != nil {
		return ":warning:"
	}
	switch event.Outcome {
	case reconciler.OutcomeCreated, reconciler.OutcomeUpdated:
		return ":rocket:"
	case reconciler.OutcomeSkipped:
		return ":no_entry:"
	default:
		return ":x:"
	}
}
