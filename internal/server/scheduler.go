package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/svat/internal/news"
)

const newsLockKey = "svat:news:lock"

// Scheduler warms the news cache on a cron schedule. With redis configured
// only one replica refreshes per tick.
type Scheduler struct {
	News   *news.Service
	Cron   string
	Rdb    *redis.Client
	Tick   time.Duration
	Logger *log.Logger

	stop chan struct{}
	last *time.Time
}

func NewScheduler(svc *news.Service, cron string, rdb *redis.Client, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{News: svc, Cron: cron, Rdb: rdb, Tick: time.Minute, Logger: logger, stop: make(chan struct{})}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.Tick)
	go func() {
		s.tick(time.Now())
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case now := <-ticker.C:
				s.tick(now)
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) tick(now time.Time) {
	if !isDue(s.Cron, s.last, now) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, newsLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("news lock: %v", err)
			return
		}
		if !ok {
			s.last = &now
			return
		}
		defer s.Rdb.Del(context.Background(), newsLockKey)
	}

	d := s.News.Refresh(ctx)
	s.last = &now
	s.Logger.Printf("news refreshed for %d sources", len(d))
}

// isDue reports whether a job with cronSpec last run at last should run at
// now. Supports "@daily", "@hourly" and 5-field cron expressions; invalid
// expressions behave like "@daily".
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return now.Sub(*last) >= 24*time.Hour
	}
	return !expr.Next(*last).After(now)
}
