package app

import (
	"context"

	"github.com/rs/zerolog"

	"tessera/api/internal/cache"
	"tessera/api/internal/config"
	"tessera/api/internal/store"
)

// Coder proposes a code and supporting quote for a piece of segment text.
// Implementations call out to a generative model; the service only needs
// the result shape.
type Coder interface {
	SuggestCoding(ctx context.Context, segmentText string) (CodingSuggestion, error)
}

type CodingSuggestion struct {
	Reasoning       string `json:"reasoning"`
	Code            string `json:"code"`
	Quote           string `json:"quote"`
	CodeDescription string `json:"code_description"`
}

type Service struct {
	cfg   config.Config
	store store.Store
	cache *cache.MembershipCache
	coder Coder
	log   zerolog.Logger
}

// New wires the service. cache and coder may be nil; the membership cache
// then degrades to direct store lookups and generated coding is unavailable.
func New(cfg config.Config, st store.Store, membership *cache.MembershipCache, coder Coder, log zerolog.Logger) *Service {
	return &Service{
		cfg:   cfg,
		store: st,
		cache: membership,
		coder: coder,
		log:   log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
