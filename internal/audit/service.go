package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videodate-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only: there are no Update/Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information about money and session events.
// A nil *Service is valid and records nothing.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// record appends e and logs (never returns) failures.
func (s *Service) record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", string(e.Type), "err", err)
	}
}

func (s *Service) SessionEnded(ctx context.Context, actorUserID, sessionID string, naturalEnd bool) {
	msg := "ended by participant"
	if naturalEnd {
		msg = "duration elapsed"
	}
	s.record(ctx, Event{
		Type:        EventTypeSessionEnded,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		Message:     msg,
	})
}

func (s *Service) ExtensionCompleted(ctx context.Context, actorUserID, sessionID, extensionID, paymentRef string, seconds int) {
	s.record(ctx, Event{
		Type:        EventTypeExtensionCompleted,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		ExtensionID: extensionID,
		PaymentRef:  paymentRef,
		Message:     fmt.Sprintf("extended by %ds", seconds),
	})
}

func (s *Service) ExtensionPaymentFailed(ctx context.Context, actorUserID, sessionID, extensionID, paymentRef string) {
	s.record(ctx, Event{
		Type:        EventTypeExtensionPaymentFailed,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		ExtensionID: extensionID,
		PaymentRef:  paymentRef,
	})
}

func (s *Service) CreditsGranted(ctx context.Context, userID, paymentRef string, credits int) {
	s.record(ctx, Event{
		Type:        EventTypeCreditsGranted,
		ActorUserID: userID,
		PaymentRef:  paymentRef,
		Message:     fmt.Sprintf("granted %d credits", credits),
	})
}
