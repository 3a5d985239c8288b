package retention

import (
	"context"
	"log/slog"
	"time"

	"vigil/internal/db"
)

type Service struct {
	repo          *db.Repository
	retentionDays int
	log           *slog.Logger
}

func NewService(repo *db.Repository, days int, logger *slog.Logger) *Service {
	if days <= 0 {
		days = 30
	}
	return &Service{repo: repo, retentionDays: days, log: logger}
}

func (s *Service) Run(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	n, err := s.repo.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("retention cleanup failed", "err", err)
		return
	}
	s.log.Info("retention cleanup completed", "cutoff", cutoff, "deleted", n)
}
