package news

import (
	"context"
	"log"
	"time"
)

// Service serves the digest from cache when possible.
type Service struct {
	Fetcher *Fetcher
	Cache   Cache
	TTL     time.Duration
	Logger  *log.Logger
}

func NewService(f *Fetcher, cache Cache, ttl time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = f.Logger
	}
	return &Service{Fetcher: f, Cache: cache, TTL: ttl, Logger: logger}
}

// Latest returns the cached digest or fetches a fresh one. Cache errors are
// logged and bypassed.
func (s *Service) Latest(ctx context.Context) Digest {
	if s.Cache != nil {
		d, ok, err := s.Cache.Get(ctx)
		if err != nil {
			s.Logger.Printf("news cache read: %v", err)
		} else if ok {
			return d
		}
	}
	return s.Refresh(ctx)
}

// Refresh fetches every feed and stores the result.
func (s *Service) Refresh(ctx context.Context) Digest {
	d := s.Fetcher.FetchAll(ctx)
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, d, s.TTL); err != nil {
			s.Logger.Printf("news cache write: %v", err)
		}
	}
	return d
}
