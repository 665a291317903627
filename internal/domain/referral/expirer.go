package referral

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/events"
)

// Tenants enumerates tenant schemas and runs work bound to one of them.
type Tenants interface {
	ListTenants(ctx context.Context) ([]string, error)
	WithTenant(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}

// Expirer moves referrals that stayed pending longer than maxAge to expired.
type Expirer struct {
	repo        Repository
	tenants     Tenants
	events      *events.Emitter
	maxAge      time.Duration
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

func NewExpirer(repo Repository, tenants Tenants, emitter *events.Emitter, maxAge time.Duration, logger zerolog.Logger) *Expirer {
	return &Expirer{
		repo:        repo,
		tenants:     tenants,
		events:      emitter,
		maxAge:      maxAge,
		concurrency: 4,
		logger:      logger.With().Str("component", "referral-expirer").Logger(),
		now:         time.Now,
	}
}

// Sweep expires referrals in the tenant bound to ctx.
func (x *Expirer) Sweep(ctx context.Context) (int, error) {
	cutoff := x.now().Add(-x.maxAge)
	expired, err := x.repo.ExpirePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending referrals: %w", err)
	}
	tenant := db.TenantFromContext(ctx)
	for _, ref := range expired {
		x.events.Emit(ctx, tenant, EventExpired, ref.ID.String(), ref, Audience(tenant, ref)...)
	}
	return len(expired), nil
}

// SweepAll runs Sweep in every tenant, a few tenants at a time. A failing
// tenant is logged and does not stop the others.
func (x *Expirer) SweepAll(ctx context.Context) (int, error) {
	ids, err := x.tenants.ListTenants(ctx)
	if err != nil {
		return 0, err
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, tenantID := range ids {
		tenantID := tenantID
		g.Go(func() error {
			err := x.tenants.WithTenant(gctx, tenantID, func(ctx context.Context) error {
				n, err := x.Sweep(ctx)
				total.Add(int64(n))
				if n > 0 {
					x.logger.Info().Str("tenant_id", tenantID).Int("expired", n).Msg("expired pending referrals")
				}
				return err
			})
			if err != nil {
				x.logger.Error().Err(err).Str("tenant_id", tenantID).Msg("referral expiry sweep failed")
			}
			return nil
		})
	}
	err = g.Wait()
	return int(total.Load()), err
}

// Run sweeps every interval until ctx is cancelled.
func (x *Expirer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	x.logger.Info().Dur("max_age", x.maxAge).Dur("interval", interval).Msg("referral expiry started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := x.SweepAll(ctx); err != nil {
				x.logger.Error().Err(err).Msg("referral expiry sweep")
			}
		}
	}
}
