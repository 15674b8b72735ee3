package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"brassradar/config"
	"brassradar/models"
)

const commandPollInterval = 2 * time.Second

type Ingester interface {
	Run(ctx context.Context) (*models.PassRun, error)
}

type Watcher interface {
	Check(ctx context.Context) (*models.PassRun, error)
	Add(ctx context.Context, itemID string) (*models.WatchEntry, bool, error)
}

// Commands is the queue of user actions written by the CLI.
type Commands interface {
	PendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64, now time.Time) error
}

// job runs one kind of pass at most once at a time. Triggers that arrive
// while it runs coalesce into one follow-up run.
type job struct {
	name    string
	run     func(ctx context.Context) error
	trigger chan struct{}
}

func newJob(name string, run func(ctx context.Context) error) *job {
	return &job{name: name, run: run, trigger: make(chan struct{}, 1)}
}

func (j *job) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

func (j *job) loop(ctx context.Context, log *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.trigger:
			if err := j.run(ctx); err != nil {
				log.Errorf("%s: %v", j.name, err)
			}
		}
	}
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	watcher  Watcher
	commands Commands
	cron     *cron.Cron
	now      func() time.Time
	log      *logrus.Entry

	ingest *job
	watch  *job
	paused atomic.Bool
	wg     sync.WaitGroup
}

func New(cfg config.SchedulerConfig, ingester Ingester, watcher Watcher, commands Commands) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		watcher:  watcher,
		commands: commands,
		cron:     cron.New(),
		now:      time.Now,
		log:      logrus.WithField("component", "scheduler"),
	}
	s.ingest = newJob("ingest", func(ctx context.Context) error {
		_, err := ingester.Run(ctx)
		return err
	})
	s.watch = newJob("watch", func(ctx context.Context) error {
		_, err := watcher.Check(ctx)
		return err
	})
	return s
}

// Start registers the schedules and the command poller. It returns once
// everything is running; Wait blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.schedule(ctx, s.ingest, s.cfg.IngestCron, s.cfg.IngestInterval); err != nil {
		return err
	}
	if err := s.schedule(ctx, s.watch, s.cfg.WatchCron, s.cfg.WatchInterval); err != nil {
		return err
	}
	s.cron.Start()

	for _, j := range []*job{s.ingest, s.watch} {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			j.loop(ctx, s.log)
		}(j)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollCommands(ctx)
	}()
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, j *job, expr string, interval time.Duration) error {
	switch {
	case expr != "":
		s.log.Infof("%s scheduled with cron: %s", j.name, expr)
		if _, err := s.cron.AddFunc(expr, func() { s.tick(j) }); err != nil {
			return fmt.Errorf("invalid %s cron expression: %w", j.name, err)
		}
	case interval > 0:
		s.log.Infof("%s scheduled every %s", j.name, interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.tick(j)
				case <-ctx.Done():
					return
				}
			}
		}()
	default:
		s.log.Infof("no schedule for %s; it only runs on command", j.name)
	}
	return nil
}

func (s *Scheduler) tick(j *job) {
	if s.paused.Load() {
		s.log.Debugf("%s skipped: paused", j.name)
		return
	}
	j.Trigger()
}

// Wait stops the cron runner and blocks until every loop has returned.
func (s *Scheduler) Wait() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

func (s *Scheduler) Paused() bool { return s.paused.Load() }

func (s *Scheduler) TriggerIngest() { s.ingest.Trigger() }

func (s *Scheduler) TriggerWatch() { s.watch.Trigger() }

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.PendingCommands(ctx)
	if err != nil {
		s.log.Errorf("read commands: %v", err)
		return
	}

	for i := range cmds {
		cmd := &cmds[i]
		s.log.Infof("processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, cmd); err != nil {
			s.log.Errorf("command %s: %v", cmd.Command, err)
		}
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID, s.now()); err != nil {
			s.log.Errorf("mark command %d processed: %v", cmd.ID, err)
		}
	}
}

var errMissingItemID = errors.New("missing item_id")

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdIngestNow:
		s.ingest.Trigger()
	case models.CmdWatchCheck:
		s.watch.Trigger()
	case models.CmdWatchAdd:
		params, err := cmd.ParseParams()
		if err != nil {
			return err
		}
		if params.ItemID == "" {
			return errMissingItemID
		}
		if _, _, err := s.watcher.Add(ctx, params.ItemID); err != nil {
			return err
		}
		s.watch.Trigger()
	case models.CmdPause:
		s.paused.Store(true)
		s.log.Info("scheduled passes paused")
	case models.CmdResume:
		s.paused.Store(false)
		s.log.Info("scheduled passes resumed")
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}
