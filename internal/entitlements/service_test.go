package entitlements

import (
	"context"
	"sync"
	"testing"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/audit"
	"videodate-platform/internal/members"
	"videodate-platform/internal/membership"
	"videodate-platform/internal/payments"
	"videodate-platform/internal/pricing"

	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepo
	dir      *members.MemoryDirectory
	payments *payments.Service
	audit    *audit.MemoryRepo
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  NewMemoryRepo(),
		dir:   members.NewMemoryDirectory(),
		audit: audit.NewMemoryRepo(),
		now:   time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
	for id, tier := range map[string]membership.Tier{
		"f1": membership.TierFree, "f2": membership.TierFree,
		"b1": membership.TierBusiness, "b2": membership.TierBusiness,
		"d1": membership.TierDating, "d2": membership.TierDating, "d3": membership.TierDating, "d4": membership.TierDating,
	} {
		f.dir.PutUser(members.User{ID: id, Tier: tier})
	}
	f.dir.PutMatch(members.Match{ID: "m-free", UserA: "f1", UserB: "f2"})
	f.dir.PutMatch(members.Match{ID: "m-biz", UserA: "b1", UserB: "b2"})

	f.payments = payments.NewService(payments.NewMemoryRepo(), "USD")
	prices := &pricing.MemoryRepo{Prices: []pricing.Price{
		{ID: "c", Product: pricing.ProductCreditPack, Currency: "USD", AmountCents: 499, Units: 20, Status: pricing.PriceStatusActive},
	}}
	f.svc = NewService(Deps{
		Repo:            f.repo,
		Directory:       f.dir,
		Catalog:         membership.DefaultCatalog(),
		Pricing:         pricing.NewService(prices, 20),
		Payments:        f.payments,
		Audit:           audit.NewService(f.audit),
		Location:        time.UTC,
		RewardThreshold: 3,
	})
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func TestRecordMessageSent_FreeTierDailyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		src, err := f.svc.RecordMessageSent(ctx, "f1", "m-free")
		require.NoError(t, err, "message %d", i+1)
		require.Equal(t, SourceDaily, src)
	}

	_, err := f.svc.RecordMessageSent(ctx, "f1", "m-free")
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	el, err := f.svc.CanSendMessage(ctx, "f1", "m-free")
	require.NoError(t, err)
	require.False(t, el.Allowed)
	require.Equal(t, ReasonDailyMessages, el.Exhausted.Reason)

	// Purchased credits extend the day.
	_, _, err = f.repo.GrantCredits(ctx, "f1", 2, "ref-1", f.now)
	require.NoError(t, err)
	src, err := f.svc.RecordMessageSent(ctx, "f1", "m-free")
	require.NoError(t, err)
	require.Equal(t, SourceCredits, src)

	// The next local day starts a fresh allowance.
	f.now = f.now.Add(24 * time.Hour)
	src, err = f.svc.RecordMessageSent(ctx, "f1", "m-free")
	require.NoError(t, err)
	require.Equal(t, SourceDaily, src)
}

func TestRecordMessageSent_ChargesOneSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.OnVideoCallEnded(ctx, "m-free", "f1", "f2", f.now))
	_, _, err := f.repo.GrantCredits(ctx, "f1", 5, "ref", f.now)
	require.NoError(t, err)

	src, err := f.svc.RecordMessageSent(ctx, "f1", "m-free")
	require.NoError(t, err)
	require.Equal(t, SourceFirstEncounter, src)

	st, err := f.svc.GetStatus(ctx, "f1", "m-free")
	require.NoError(t, err)
	require.Equal(t, 4, st.FirstEncounterRemaining)
	require.Equal(t, 0, st.DailyMessagesSent)
	require.Equal(t, 5, st.PurchasedCredits)
	require.Equal(t, 1, st.PerMatchSentToday)
}

func TestRecordMessageSent_BusinessPerMatchCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.OnVideoCallEnded(ctx, "m-biz", "b1", "b2", f.now))
	_, _, err := f.repo.GrantCredits(ctx, "b1", 50, "ref", f.now)
	require.NoError(t, err)

	// 20 first-encounter then 10 daily messages reach the ceiling of 30.
	for i := 0; i < 30; i++ {
		_, err := f.svc.RecordMessageSent(ctx, "b1", "m-biz")
		require.NoError(t, err, "message %d", i+1)
	}
	_, err = f.svc.RecordMessageSent(ctx, "b1", "m-biz")
	require.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindQuotaExceeded, Reason: ReasonPerMatchCap})

	st, err := f.svc.GetStatus(ctx, "b1", "m-biz")
	require.NoError(t, err)
	require.Equal(t, 10, st.DailyMessagesSent)
	require.Equal(t, 50, st.PurchasedCredits)
	require.Equal(t, 30, st.PerMatchCap)
}

func TestRecordMessageSent_RequiresParticipant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordMessageSent(context.Background(), "b1", "m-free")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.RecordMessageSent(context.Background(), "f1", "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecordMessageSent_ConcurrentSendsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RecordMessageSent(ctx, "f1", "m-free"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 15, ok)
}

func TestOnVideoCallEnded_RewardAndDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, partner := range []string{"d2", "d3", "d2", "d4"} {
		matchID := "m-d1-" + partner
		f.dir.PutMatch(members.Match{ID: matchID, UserA: "d1", UserB: partner})
		require.NoError(t, f.svc.OnVideoCallEnded(ctx, matchID, "d1", partner, f.now))

		r, err := f.svc.RewardStatus(ctx, "d1")
		require.NoError(t, err)
		if i < 3 {
			require.False(t, r.HasActiveReward, "after %d calls", i+1)
		} else {
			require.Equal(t, 3, r.UniquePartners)
			require.True(t, r.HasActiveReward)
		}
	}

	// First-encounter resets to each participant's own tier amount.
	st, err := f.svc.GetStatus(ctx, "d2", "m-d1-d2")
	require.NoError(t, err)
	require.Equal(t, 10, st.FirstEncounterRemaining)

	q, err := f.svc.QuoteCredits(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, int64(399), q.AmountCents)

	q, err = f.svc.QuoteCredits(ctx, "d2")
	require.NoError(t, err)
	require.Equal(t, int64(499), q.AmountCents)

	// Rewards reset at the month boundary.
	f.now = time.Date(2026, 11, 1, 0, 0, 1, 0, time.UTC)
	r, err := f.svc.RewardStatus(ctx, "d1")
	require.NoError(t, err)
	require.False(t, r.HasActiveReward)
	require.Equal(t, "2026-11", r.Month)
}

func TestClaimCredits_GrantsOncePerReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.PurchaseCredits(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, 20, p.Credits)

	_, err = f.svc.ClaimCredits(ctx, "f1", p.Ref)
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindPaymentNotAuthorized, e.Kind)
	require.True(t, e.Retryable)

	_, err = f.svc.ClaimCredits(ctx, "f2", p.Ref)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.payments.Settle(ctx, p.Ref, payments.StatusSucceeded)
	require.NoError(t, err)

	c, err := f.svc.ClaimCredits(ctx, "f1", p.Ref)
	require.NoError(t, err)
	require.True(t, c.Granted)
	require.Equal(t, 20, c.Balance)

	c, err = f.svc.ClaimCredits(ctx, "f1", p.Ref)
	require.NoError(t, err)
	require.False(t, c.Granted)
	require.Equal(t, 20, c.Balance)

	require.Len(t, f.audit.OfType(audit.EventTypeCreditsGranted), 1)
}
