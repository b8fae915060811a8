package core

import (
	"context"
	"fmt"

	"codealert/internal/storage"
)

// OutcomeKind tags the result of validating a subscriber's configuration.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeChannelStale
	OutcomeMentionStale
	OutcomeBothStale
)

// Outcome is the validation result for one subscriber in one cycle.
// Destination/Mention hold the stale references (0 when the destination was
// never configured, which also counts as a stale channel).
type Outcome struct {
	Kind        OutcomeKind
	Destination int64
	Mention     int64
}

// Advisory renders the operator-facing explanation for a non-valid outcome.
func (o Outcome) Advisory() string {
	const reenable = "Reconfigure it and re-enable alerts with /enable."
	switch o.Kind {
	case OutcomeChannelStale:
		return channelAdvisory(o.Destination) + " Alerts are now disabled. " + reenable
	case OutcomeMentionStale:
		return fmt.Sprintf("The mention target (id=%d) set for alerts no longer exists.", o.Mention) +
			" Alerts are now disabled. " + reenable
	case OutcomeBothStale:
		return channelAdvisory(o.Destination) + " " +
			fmt.Sprintf("The mention target (id=%d) no longer exists either.", o.Mention) +
			" Alerts are now disabled. " + reenable
	default:
		return ""
	}
}

func channelAdvisory(dest int64) string {
	if dest == 0 {
		return "No alert channel is set. Set one with /setchannel."
	}
	return fmt.Sprintf("The channel (id=%d) set for alerts is not reachable anymore.", dest)
}

// validate checks the subscriber's destination and mention against the
// external system. The destination must be set and resolvable; the mention
// must be resolvable only if set.
func (e *Engine) validate(ctx context.Context, sub storage.Subscriber) (Outcome, error) {
	channelOK := false
	if sub.Destination != 0 {
		ok, err := e.oracle.DestinationUsable(ctx, sub.Destination)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: destination %d: %w", ErrOracleUnavailable, sub.Destination, err)
		}
		channelOK = ok
	}

	mentionOK := true
	if sub.Mention != 0 {
		ok, err := e.oracle.MentionUsable(ctx, sub.ID, sub.Mention)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: mention %d: %w", ErrOracleUnavailable, sub.Mention, err)
		}
		mentionOK = ok
	}

	switch {
	case channelOK && mentionOK:
		return Outcome{Kind: OutcomeValid}, nil
	case !channelOK && !mentionOK:
		return Outcome{Kind: OutcomeBothStale, Destination: sub.Destination, Mention: sub.Mention}, nil
	case !channelOK:
		return Outcome{Kind: OutcomeChannelStale, Destination: sub.Destination}, nil
	default:
		return Outcome{Kind: OutcomeMentionStale, Mention: sub.Mention}, nil
	}
}
