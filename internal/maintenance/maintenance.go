// Package maintenance runs the background housekeeping jobs: rate-limit
// entry sweeps and download-audit retention pruning.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/launchkit/template-store/internal/database"
	"github.com/launchkit/template-store/internal/ratelimit"
	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron          *cron.Cron
	db            *database.DB
	limiter       *ratelimit.MemoryLimiter
	retentionDays int
}

// New wires the housekeeping jobs. limiter may be nil when rate limiting
// is backed by Redis, which expires its own keys.
func New(db *database.DB, limiter *ratelimit.MemoryLimiter, retentionDays int) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		db:            db,
		limiter:       limiter,
		retentionDays: retentionDays,
	}
}

func (s *Scheduler) Start() error {
	if s.limiter != nil {
		_, err := s.cron.AddFunc("@every 5m", s.sweepLimiter)
		if err != nil {
			return err
		}
	}

	if s.retentionDays > 0 {
		_, err := s.cron.AddFunc("@daily", s.pruneAudits)
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	slog.Info("Maintenance scheduler started", "auditRetentionDays", s.retentionDays)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Maintenance scheduler stopped")
}

func (s *Scheduler) sweepLimiter() {
	evicted := s.limiter.Sweep(time.Hour)
	if evicted > 0 {
		slog.Info("Swept rate limiter entries", "evicted", evicted)
	}
}

func (s *Scheduler) pruneAudits() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&database.DownloadAudit{})
	if result.Error != nil {
		slog.Error("Audit retention prune failed", "error", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		slog.Info("Pruned download audits", "deleted", result.RowsAffected, "cutoff", cutoff)
	}
}
