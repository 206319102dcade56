package offers

import (
	"context"
	"time"

	"github.com/Domenick1991/bookingcore/internal/orders"
	"github.com/sirupsen/logrus"
)

type OfferUseCase interface {
	Get(ctx context.Context, id string) (*orders.Offer, error)
	Search(ctx context.Context, criteria orders.SearchCriteria) ([]orders.Offer, error)
}

type OfferSource interface {
	GetOffer(ctx context.Context, id string) (*orders.Offer, error)
	SearchOffers(ctx context.Context, criteria orders.SearchCriteria) ([]orders.Offer, error)
}

type OfferCache interface {
	GetOffer(ctx context.Context, id string) (*orders.Offer, error)
	SetOffer(ctx context.Context, offer *orders.Offer, ttl time.Duration) error
	DeleteOffer(ctx context.Context, id string) error
}

type OfferService struct {
	source   OfferSource
	cache    OfferCache
	cacheTTL time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewOfferService builds the service; cache may be nil.
func NewOfferService(source OfferSource, cache OfferCache, cacheTTL time.Duration, logger *logrus.Logger) *OfferService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OfferService{source: source, cache: cache, cacheTTL: cacheTTL, logger: logger, now: time.Now}
}

// Get serves offers from cache when possible. Cache failures are logged and
// fall through to the upstream API; expired entries are evicted.
func (s *OfferService) Get(ctx context.Context, id string) (*orders.Offer, error) {
	if s.cache != nil {
		cached, err := s.cache.GetOffer(ctx, id)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("offer_id", id).Warn("offer cache read failed")
		case cached == nil:
		case cached.ExpiresAt.IsZero() || cached.ExpiresAt.After(s.now()):
			return cached, nil
		default:
			if err := s.cache.DeleteOffer(ctx, id); err != nil {
				s.logger.WithError(err).WithField("offer_id", id).Warn("offer cache eviction failed")
			}
		}
	}

	offer, err := s.source.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetOffer(ctx, offer, s.ttlFor(offer)); err != nil {
			s.logger.WithError(err).WithField("offer_id", id).Warn("offer cache write failed")
		}
	}
	return offer, nil
}

func (s *OfferService) Search(ctx context.Context, criteria orders.SearchCriteria) ([]orders.Offer, error) {
	return s.source.SearchOffers(ctx, criteria)
}

// ttlFor never lets a cached offer outlive its expires_at.
func (s *OfferService) ttlFor(offer *orders.Offer) time.Duration {
	ttl := s.cacheTTL
	if !offer.ExpiresAt.IsZero() {
		if left := offer.ExpiresAt.Sub(s.now()); left < ttl {
			ttl = left
		}
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

var _ OfferUseCase = (*OfferService)(nil)
