package booking

import (
	"context"
)

const sweepBatchSize = 500

// SweepStaleSessions cancels open sessions older than the session TTL.
// Sessions hold no seats, so this only clears abandoned attempts.
func (s *Service) SweepStaleSessions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.SessionTTL)
	ids, err := s.store.CancelStaleSessions(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Info("action", "action", "sweep_sessions", "status", "ok", "cancelled", len(ids), "cutoff", cutoff)
	}
	return len(ids), nil
}
