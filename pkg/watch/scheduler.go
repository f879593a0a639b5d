package watch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"site-mapper/pkg/config"
	"site-mapper/pkg/orchestrate"
)

// Scheduler regenerates the sitemaps of a set of sites on a fixed interval.
// Every regeneration is a full crawl.
type Scheduler struct {
	appCfg       *config.AppConfig
	runner       *orchestrate.SiteRunner
	siteKeys     []string
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	now          func() time.Time
}

// NewScheduler creates a watch scheduler. State is kept in the state
// directory, or in the output directory when none is configured.
func NewScheduler(appCfg *config.AppConfig, runner *orchestrate.SiteRunner, siteKeys []string, interval time.Duration, log *logrus.Entry, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	stateDir := appCfg.StateDir
	if stateDir == "" {
		stateDir = appCfg.OutputBaseDir
	}
	return &Scheduler{
		appCfg:       appCfg,
		runner:       runner,
		siteKeys:     siteKeys,
		interval:     interval,
		log:          log,
		stateManager: NewStateManager(stateDir, now),
		now:          now,
	}
}

// Run regenerates due sites until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites with interval %s", len(s.siteKeys), FormatInterval(s.interval))
	s.logSchedule()

	s.RunDueSites(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.RunDueSites(ctx)
		}
	}
}

// RunDueSites regenerates every site whose interval has elapsed and
// returns the keys it ran
func (s *Scheduler) RunDueSites(ctx context.Context) []string {
	dueSites := s.getDueSites()
	if len(dueSites) == 0 {
		s.logNextRun()
		return nil
	}

	s.log.Infof("Regenerating sitemaps for %d due sites: %v", len(dueSites), dueSites)
	orch := orchestrate.NewOrchestrator(s.appCfg, dueSites, s.runner, s.log)
	for _, result := range orch.Run(ctx) {
		if ctx.Err() != nil {
			// Interrupted runs are retried on the next start
			continue
		}
		errorMsg := ""
		if result.Error != nil {
			errorMsg = result.Error.Error()
		}
		s.stateManager.RecordRun(result.SiteKey, result.Success, result.PagesVisited, result.Entries, errorMsg)
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
	s.logNextRun()
	return dueSites
}

func (s *Scheduler) getDueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.interval) {
			due = append(due, siteKey)
		}
	}
	return due
}

// calculateTickInterval checks a tenth of the interval, between one and ten minutes
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		state, exists := s.stateManager.GetSiteState(siteKey)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", siteKey)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %v (%s, %d entries), next run %v",
			siteKey,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.Entries,
			s.stateManager.GetNextRunTime(siteKey, s.interval).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	if len(s.siteKeys) == 0 {
		return
	}
	keys := make([]string, len(s.siteKeys))
	copy(keys, s.siteKeys)
	sort.Slice(keys, func(i, j int) bool {
		return s.stateManager.GetNextRunTime(keys[i], s.interval).Before(s.stateManager.GetNextRunTime(keys[j], s.interval))
	})

	next := s.stateManager.GetNextRunTime(keys[0], s.interval)
	until := next.Sub(s.now())
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next regeneration: %s in %v (at %s)", keys[0], until.Round(time.Second), next.Format("15:04:05"))
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string, accepting a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
