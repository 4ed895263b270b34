package entitlements

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"videodate-platform/internal/apperr"
	"videodate-platform/internal/audit"
	"videodate-platform/internal/members"
	"videodate-platform/internal/membership"
	"videodate-platform/internal/payments"
	"videodate-platform/internal/pricing"
	"videodate-platform/pkg/logger"
)

// consumeAttempts bounds re-evaluation after losing a ceiling race.
const consumeAttempts = 3

// PaymentCollaborator is the slice of the payment service used for credit packs.
type PaymentCollaborator interface {
	CreateAuthorization(ctx context.Context, payerID string, amountCents int64, metadata map[string]string) (string, error)
	GetAuthorization(ctx context.Context, ref string) (payments.Authorization, error)
}

// Deps wires a Service. Payments and Pricing are only needed for credit purchase.
type Deps struct {
	Repo      Repository
	Directory members.Directory
	Catalog   membership.Catalog
	Pricing   *pricing.Service
	Payments  PaymentCollaborator
	Audit     *audit.Service

	// Location defines local midnight and calendar months.
	Location        *time.Location
	RewardThreshold int
}

// Service is the Entitlement Ledger: message quotas, first-encounter allowances,
// purchased credits and the monthly video-partner reward.
type Service struct {
	repo      Repository
	dir       members.Directory
	catalog   membership.Catalog
	pricing   *pricing.Service
	payments  PaymentCollaborator
	audit     *audit.Service
	loc       *time.Location
	threshold int

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      d.Repo,
		dir:       d.Directory,
		catalog:   d.Catalog,
		pricing:   d.Pricing,
		payments:  d.Payments,
		audit:     d.Audit,
		loc:       loc,
		threshold: d.RewardThreshold,
		clock:     time.Now,
	}
}

const (
	metaProduct = "product"
	metaCredits = "credits"
)

// participant checks userID belongs to matchID and returns their tier.
func (s *Service) participant(ctx context.Context, userID, matchID string) (membership.Tier, error) {
	if userID == "" || matchID == "" {
		return "", apperr.Invalid("user and match required")
	}
	m, err := s.dir.GetMatch(ctx, matchID)
	if err != nil {
		return "", err
	}
	if !m.Has(userID) {
		return "", apperr.Unauthorized("not a participant of this match")
	}
	return s.dir.TierOf(ctx, userID)
}

// CanSendMessage is read-only; it reports the source RecordMessageSent would charge.
func (s *Service) CanSendMessage(ctx context.Context, userID, matchID string) (Eligibility, error) {
	tier, err := s.participant(ctx, userID, matchID)
	if err != nil {
		return Eligibility{}, err
	}
	now := s.clock()
	snap, err := s.repo.Snapshot(ctx, userID, matchID, dayKey(now, s.loc))
	if err != nil {
		return Eligibility{}, err
	}

	src, err := Evaluate(s.catalog, tier, snap, nextMidnight(now, s.loc))
	if err != nil {
		if e, ok := apperr.As(err); ok {
			return Eligibility{Allowed: false, Exhausted: e}, nil
		}
		return Eligibility{}, err
	}
	return Eligibility{Allowed: true, Source: src}, nil
}

// RecordMessageSent charges one message against exactly one source.
// A lost ceiling race re-evaluates from a fresh snapshot.
func (s *Service) RecordMessageSent(ctx context.Context, userID, matchID string) (Source, error) {
	tier, err := s.participant(ctx, userID, matchID)
	if err != nil {
		return "", err
	}
	limits := s.catalog.For(tier)

	for attempt := 0; attempt < consumeAttempts; attempt++ {
		now := s.clock()
		day := dayKey(now, s.loc)

		snap, err := s.repo.Snapshot(ctx, userID, matchID, day)
		if err != nil {
			return "", err
		}
		src, err := Evaluate(s.catalog, tier, snap, nextMidnight(now, s.loc))
		if err != nil {
			return "", err
		}

		ok, err := s.repo.Consume(ctx, ConsumeRequest{
			UserID:      userID,
			MatchID:     matchID,
			Day:         day,
			Source:      src,
			DailyCap:    limits.DailyMessageCap,
			PerMatchCap: perMatchCap(limits, snap),
			At:          now.UTC(),
		})
		if err != nil {
			return "", err
		}
		if ok {
			return src, nil
		}
		logger.From(ctx).Debug("entitlement consume lost race", "user_id", userID, "source", string(src), "attempt", attempt+1)
	}

	e := apperr.Conflict("entitlement_contention", "concurrent sends exhausted retries")
	e.Retryable = true
	return "", e
}

// OnVideoCallEnded resets both participants' first-encounter allowance for the match
// to their tier's amount and records each as the other's reward partner this month.
func (s *Service) OnVideoCallEnded(ctx context.Context, matchID, userA, userB string, at time.Time) error {
	v := VideoCall{MatchID: matchID, Month: monthKey(at, s.loc), At: at.UTC()}
	for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
		tier, err := s.dir.TierOf(ctx, pair[0])
		if err != nil {
			return err
		}
		v.Participants = append(v.Participants, Participant{
			UserID:         pair[0],
			PartnerID:      pair[1],
			FirstEncounter: s.catalog.For(tier).FirstEncounterMessages,
		})
	}
	return s.repo.RecordVideoCall(ctx, v)
}

func (s *Service) RewardStatus(ctx context.Context, userID string) (Reward, error) {
	month := monthKey(s.clock(), s.loc)
	n, err := s.repo.RewardPartners(ctx, userID, month)
	if err != nil {
		return Reward{}, err
	}
	return Reward{
		Month:           month,
		UniquePartners:  n,
		Threshold:       s.threshold,
		HasActiveReward: s.threshold > 0 && n >= s.threshold,
	}, nil
}

// GetStatus returns the user's entitlement view; matchID may be empty.
func (s *Service) GetStatus(ctx context.Context, userID, matchID string) (Status, error) {
	var (
		tier membership.Tier
		err  error
	)
	if matchID != "" {
		tier, err = s.participant(ctx, userID, matchID)
	} else {
		tier, err = s.dir.TierOf(ctx, userID)
	}
	if err != nil {
		return Status{}, err
	}

	now := s.clock()
	day := dayKey(now, s.loc)
	snap, err := s.repo.Snapshot(ctx, userID, matchID, day)
	if err != nil {
		return Status{}, err
	}
	reward, err := s.RewardStatus(ctx, userID)
	if err != nil {
		return Status{}, err
	}

	l := s.catalog.For(tier)
	st := Status{
		Day:               day,
		Tier:              string(tier),
		DailyMessagesSent: snap.DailySent,
		DailyMessageCap:   l.DailyMessageCap,
		DailyResetsAt:     nextMidnight(now, s.loc),
		PurchasedCredits:  snap.Credits,
		Reward:            reward,
	}
	if matchID != "" {
		st.MatchID = matchID
		st.FirstEncounterRemaining = snap.FirstEncounterRemaining
		st.PerMatchSentToday = snap.MatchSentToday
		st.PerMatchCap = perMatchCap(l, snap)
	}
	return st, nil
}

// QuoteCredits prices one credit pack, discounted while the user holds an active reward.
func (s *Service) QuoteCredits(ctx context.Context, userID string) (pricing.Quote, error) {
	if s.pricing == nil {
		return pricing.Quote{}, fmt.Errorf("credit pricing not configured")
	}
	reward, err := s.RewardStatus(ctx, userID)
	if err != nil {
		return pricing.Quote{}, err
	}
	return s.pricing.CreditPackQuote(ctx, reward.HasActiveReward)
}

// PurchaseCredits opens a payment authorization for the quoted pack.
func (s *Service) PurchaseCredits(ctx context.Context, userID string) (CreditPurchase, error) {
	if _, err := s.dir.GetUser(ctx, userID); err != nil {
		return CreditPurchase{}, err
	}
	q, err := s.QuoteCredits(ctx, userID)
	if err != nil {
		return CreditPurchase{}, err
	}
	ref, err := s.payments.CreateAuthorization(ctx, userID, q.AmountCents, map[string]string{
		metaProduct: string(pricing.ProductCreditPack),
		metaCredits: strconv.Itoa(q.Units),
	})
	if err != nil {
		return CreditPurchase{}, err
	}
	return CreditPurchase{Ref: ref, Credits: q.Units, AmountCents: q.AmountCents, Currency: q.Currency}, nil
}

// ClaimCredits grants the pack paid for by ref. Repeated claims return the same
// result without granting twice.
func (s *Service) ClaimCredits(ctx context.Context, userID, ref string) (CreditClaim, error) {
	a, err := s.payments.GetAuthorization(ctx, ref)
	if err != nil {
		return CreditClaim{}, err
	}
	if a.PayerID != userID {
		return CreditClaim{}, apperr.Unauthorized("payment belongs to another user")
	}
	if a.Metadata[metaProduct] != string(pricing.ProductCreditPack) {
		return CreditClaim{}, apperr.Invalid("payment is not for a credit pack")
	}
	credits, err := strconv.Atoi(a.Metadata[metaCredits])
	if err != nil || credits <= 0 {
		return CreditClaim{}, apperr.Invalid("payment has no credit amount")
	}

	switch a.Status {
	case payments.StatusPending:
		return CreditClaim{}, apperr.PaymentNotAuthorized("payment_pending", true)
	case payments.StatusFailed:
		return CreditClaim{}, apperr.PaymentNotAuthorized("payment_failed", false)
	}

	granted, balance, err := s.repo.GrantCredits(ctx, userID, credits, ref, s.clock().UTC())
	if err != nil {
		return CreditClaim{}, err
	}
	if granted {
		s.audit.CreditsGranted(ctx, userID, ref, credits)
	}
	return CreditClaim{Ref: ref, Granted: granted, Credits: credits, Balance: balance}, nil
}
