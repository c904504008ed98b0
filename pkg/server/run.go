package server

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run brings the server up and blocks until shutdown: gateway init,
// optional user seeding, the TCP listener, the metrics endpoint, the
// periodic metrics log and the idle sweeper. Returns after a signal or a
// /shutdown command has been processed.
func (s *Server) Run() error {
	if err := s.gateway.Initialize(); err != nil {
		return err
	}

	if s.cfg.UsersFile != "" {
		n, err := SeedUsersFromYAML(s.cfg.UsersFile, s.gateway)
		if err != nil {
			return err
		}
		slog.Info("users seeded", "file", s.cfg.UsersFile, "created", n)
	}

	if err := s.Start(); err != nil {
		return err
	}

	s.StartMetricsHTTP()
	if s.cfg.MetricsLogInterval > 0 {
		s.metrics.StartPeriodicLog(s.cfg.MetricsLogInterval, s.ctx.Done())
	}
	go s.sweepLoop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case v := <-sig:
		slog.Info("signal received", "signal", v.String())
		s.Shutdown()
	case <-s.ctx.Done():
	}

	// Give disabled sessions a moment to flush their /exitok frames.
	time.Sleep(100 * time.Millisecond)
	s.metrics.LogSummary()
	return nil
}

// sweepLoop periodically disables sessions that have been idle longer than
// the configured timeout.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.SweepIdle(s.cfg.IdleTimeout); n > 0 {
				s.metrics.IdleEvictions.Add(int64(n))
				slog.Info("idle sessions evicted", "count", n, "timeout", s.cfg.IdleTimeout)
			}
		}
	}
}
