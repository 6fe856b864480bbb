package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Mellanfrost/twitch-bot/internal/credential"
	boterr "github.com/Mellanfrost/twitch-bot/internal/errors"
	"github.com/Mellanfrost/twitch-bot/internal/platform/correlation"
	"github.com/Mellanfrost/twitch-bot/internal/platform/retry"
)

// Channel is the EventSub connection the supervisor keeps alive.
type Channel interface {
	Run(ctx context.Context) error
}

// CredentialSource re-establishes a usable credential before each
// connection cycle.
type CredentialSource interface {
	EnsureValid(ctx context.Context) (credential.Credential, error)
}

// Supervisor is the top-level run loop: ensure the credential is usable,
// run the channel, reconnect on transport failures with backoff, recover
// the credential on authorization failures, and stop on anything fatal.
type Supervisor struct {
	auth    CredentialSource
	channel Channel
	policy  retry.Policy
}

// NewSupervisor wires the run loop. The policy's OnRetry hook gets a
// default reconnect log when unset.
func NewSupervisor(auth CredentialSource, channel Channel, policy retry.Policy) *Supervisor {
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.Warn("EventSub connection lost, reconnecting",
				"attempt", attempt, "backoff", backoff, "error", err)
		}
	}
	return &Supervisor{auth: auth, channel: channel, policy: policy}
}

// Run blocks until the context is cancelled (returns nil) or a
// non-recoverable error occurs. A credential rejection mid-stream starts
// a fresh recovery cycle with the backoff budget reset.
func (s *Supervisor) Run(ctx context.Context) error {
	runID := correlation.RunID()
	slog.InfoContext(ctx, "Supervisor starting", "run_id", runID)

	for {
		if _, err := s.auth.EnsureValid(ctx); err != nil {
			return err
		}

		err := retry.DoVoid(ctx, s.policy, classifyChannelError, func() error {
			return s.channel.Run(ctx)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Supervisor stopping", "run_id", runID)
			return nil
		}

		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			if boterr.IsUnauthorized(perm.Err) {
				slog.WarnContext(ctx, "Credential rejected mid-stream, re-establishing",
					"run_id", runID, "error", perm.Err)
				continue
			}
			return perm.Err
		}

		// Reconnect budget exhausted.
		return err
	}
}

// classifyChannelError decides between reconnecting and stopping. Errors
// carrying a taxonomy kind are policy decisions for the supervisor, not
// transient transport failures.
func classifyChannelError(err error) retry.Action {
	if boterr.KindOf(err) != "" {
		return retry.Stop
	}
	return retry.Retry
}
