package cache

import (
	"time"

	"go.uber.org/zap"
)

// sweepLoop runs Cleanup every CleanupInterval until Close.
func (s *Store[V]) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			removed := s.cleanupLocked(now())
			s.mu.Unlock()
			if removed > 0 {
				s.log.Debug("cache sweep", zap.Int("expired", removed))
			}
		}
	}
}

// Close stops the background sweep and waits for it to exit. The store stays
// usable afterwards. Close is safe to call multiple times.
func (s *Store[V]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
