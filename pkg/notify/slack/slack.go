// Package slack posts run summaries to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/runbox/runbox/pkg/model"
)

// Notifier posts run summaries via the Slack Web API.
type Notifier struct {
	api     *slack.Client
	channel string
}

// New creates a Notifier posting to the given channel.
func New(botToken, channel string) *Notifier {
	return &Notifier{
		api:     slack.New(botToken),
		channel: channel,
	}
}

// Name returns the notifier name.
func (n *Notifier) Name() string { return "slack" }

// RunFinished posts the run summary as a block message.
func (n *Notifier) RunFinished(ctx context.Context, summary model.RunSummary) error {
	icon := ":white_check_mark:"
	verdict := "passed"
	if !summary.Passed() {
		icon = ":x:"
		verdict = fmt.Sprintf("failed (%d of %d)", len(summary.Failed), len(summary.Files))
	}

	headerText := slack.NewTextBlockObject(slack.MarkdownType,
		fmt.Sprintf("%s *Run `%s` %s* in %s",
			icon, summary.RunID, verdict, summary.Duration.Round(time.Millisecond)),
		false, false)
	headerSection := slack.NewSectionBlock(headerText, nil, nil)

	blocks := []slack.Block{headerSection}
	if len(summary.Failed) > 0 {
		failedText := slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("Failed files:\n```%s```", strings.Join(summary.Failed, "\n")),
			false, false)
		blocks = append(blocks, slack.NewDividerBlock(), slack.NewSectionBlock(failedText, nil, nil))
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", n.channel, err)
	}
	return nil
}
