package telegram

import (
	"context"
	"fmt"
	"strings"

	"codealert/internal/core"
	kit "codealert/internal/transport"
	logx "codealert/pkg/logx"
)

// Gateway implements the engine's Oracle, Delivery and Alerter collaborators
// on top of the adapter.
type Gateway struct {
	adapter kit.Adapter
	log     logx.Logger

	// RedeemURL is a printf template with one %s for the code text.
	redeemURL string
}

func NewGateway(adapter kit.Adapter, redeemURL string, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "gateway"))
	if redeemURL != "" && !validRedeemTemplate(redeemURL) {
		log.Warn("redeem url template ignored, want exactly one %s verb",
			logx.String("template", redeemURL))
		redeemURL = ""
	}
	return &Gateway{
		adapter:   adapter,
		log:       log,
		redeemURL: redeemURL,
	}
}

// validRedeemTemplate accepts exactly one %s and no other verbs; anything
// else would render Sprintf artifacts into every notification.
func validRedeemTemplate(tpl string) bool {
	return strings.Count(tpl, "%s") == 1 &&
		!strings.Contains(strings.ReplaceAll(tpl, "%s", ""), "%")
}

// DestinationUsable reports whether the alert chat still exists.
func (g *Gateway) DestinationUsable(ctx context.Context, ref int64) (bool, error) {
	return g.adapter.ResolveChat(ctx, ref)
}

// MentionUsable reports whether the mention target is still a member of the
// subscriber's group.
func (g *Gateway) MentionUsable(ctx context.Context, group, ref int64) (bool, error) {
	return g.adapter.ResolveMember(ctx, group, ref)
}

// FallbackDestination resolves the advisory destination for a group: the
// group chat itself, provided it is still reachable.
func (g *Gateway) FallbackDestination(ctx context.Context, group int64) (int64, error) {
	ok, err := g.adapter.ResolveChat(ctx, group)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("group chat %d unreachable", group)
	}
	return group, nil
}

// Deliver sends the delta as a single formatted notification.
func (g *Gateway) Deliver(ctx context.Context, d core.Delta) error {
	text := g.formatDelta(d)
	_, err := g.adapter.SendText(ctx, kit.ChatTarget{ChatID: d.Destination}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}

// Alert sends a one-off advisory.
func (g *Gateway) Alert(ctx context.Context, destination int64, text string) error {
	_, err := g.adapter.SendText(ctx, kit.ChatTarget{ChatID: destination}, text, nil)
	return err
}

func (g *Gateway) formatDelta(d core.Delta) string {
	var b strings.Builder
	b.WriteString("New codes available")
	if d.Mention != 0 {
		fmt.Fprintf(&b, ` <a href="tg://user?id=%d">@there</a>`, d.Mention)
	}
	for _, c := range d.Codes {
		b.WriteString("\n")
		if g.redeemURL != "" {
			fmt.Fprintf(&b, `» <a href="%s">%s</a>`,
				fmt.Sprintf(g.redeemURL, c.Text), c.Text)
		} else {
			b.WriteString("» ")
			b.WriteString(c.Text)
		}
	}
	return b.String()
}
