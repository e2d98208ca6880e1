package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"questtab/internal/engine"
	"questtab/internal/notify"
	"questtab/internal/store"
	"questtab/internal/tracker"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// Scheduler runs the periodic maintenance jobs: a post-reset digest of
// still-incomplete tasks per account, and pruning of closed status
// records past the retention window. Pool resets stay pull-based and are
// never performed here.
type Scheduler struct {
	tracker  *tracker.Tracker
	store    *store.Store
	notifier notify.Notifier
	logger   *slog.Logger
	location *time.Location

	cron *cron.Cron
	ctx  context.Context
}

func New(tr *tracker.Tracker, st *store.Store, notifier notify.Notifier, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	return &Scheduler{
		tracker:  tr,
		store:    st,
		notifier: notifier,
		logger:   logger,
		location: location,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
		),
	}
}

// Start registers the jobs and begins the scheduling loop. digestExpr is
// a 5-field cron expression evaluated in the reference timezone; the
// prune job runs daily a little after the 04:00 cutover.
func (s *Scheduler) Start(ctx context.Context, digestExpr string) error {
	s.ctx = ctx
	digestSchedule, err := ParseCron(digestExpr)
	if err != nil {
		return fmt.Errorf("digest schedule: %w", err)
	}
	s.cron.Schedule(digestSchedule, cron.FuncJob(s.runDigest))
	if _, err := s.cron.AddFunc("30 4 * * *", s.runPrune); err != nil {
		return fmt.Errorf("prune schedule: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduling loop and returns a context that closes once
// running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runDigest() {
	ctx := s.ctxOrBackground()
	boards, err := s.tracker.Dashboard(ctx, time.Now())
	if err != nil {
		s.logger.Error("digest dashboard", "err", err)
		return
	}
	var lines []string
	for _, board := range boards {
		pending := 0
		for _, task := range board.Tasks {
			if task.Status != engine.StatusCompleted {
				pending++
			}
		}
		if pending > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d task(s) pending", board.Nickname, pending))
		}
	}
	if len(lines) == 0 {
		s.logger.Debug("digest skipped, nothing pending")
		return
	}
	body := strings.Join(lines, "\n")
	if err := s.notifier.Send(ctx, "questtab: tasks pending", body); err != nil {
		s.logger.Error("send digest", "err", err)
		return
	}
	s.logger.Info("digest sent", "accounts", len(lines))
}

func (s *Scheduler) runPrune() {
	ctx := s.ctxOrBackground()
	cutoff := time.Now().AddDate(0, 0, -s.store.StatusRetentionDays)
	pruned, err := s.store.PruneStatusesBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("prune statuses", "err", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("pruned closed status records", "count", pruned)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
