package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// sendAttempts is the delivery budget for one digest.
const sendAttempts = 3

// deliver runs send under the shared retry policy, logging each round trip
// against the digest's user. send marks permanent failures with retry.Unrecoverable.
func deliver(ctx context.Context, logger *slog.Logger, via string, attempts uint, msg *Message, send func() error) error {
	log := logger.With("provider", via, "user_id", msg.UserID)

	return retry.Do(
		func() error {
			start := time.Now()
			err := send()
			duration := time.Since(start).Milliseconds()
			if err != nil {
				log.Warn("Digest delivery attempt failed", "duration_ms", duration, "error", err)
				return err
			}
			log.Info("Digest delivered to provider", "duration_ms", duration)
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Info("Retrying digest delivery", "attempt", n, "error", err)
		}),
	)
}
