package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/CareerForgeApp/CareerForge/app/models"
)

// Webhook event types the sync service reacts to. Anything else is accepted
// and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Event is the envelope parsed from a webhook delivery. Only the fields the
// dispatch needs are decoded; created/updated handling re-fetches the rest.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

type EventObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseEvent decodes a webhook payload into the envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("webhook event missing type")
	}
	return &ev, nil
}

// IsEntitledStatus reports whether a provider subscription status keeps the
// local record. Everything outside this set means the paid entitlement is
// removed.
func IsEntitledStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive, models.BillingStatusTrialing, models.BillingStatusPastDue:
		return true
	default:
		return false
	}
}

// Service reconciles local subscription state with provider webhook events.
// The local row is a cache of provider truth, invalidated and refreshed by
// notifications, never an independently evolving state machine.
type Service struct {
	repo    Repository
	fetcher SubscriptionFetcher
}

func NewService(repo Repository, fetcher SubscriptionFetcher) *Service {
	return &Service{repo: repo, fetcher: fetcher}
}

func NewServiceFromDB(db *gorm.DB, fetcher SubscriptionFetcher) *Service {
	return NewService(NewRepository(db), fetcher)
}

// RecordWebhookEvent persists a delivery idempotently, keyed by the provider
// event id (or a payload hash when the provider sent none).
func (s *Service) RecordWebhookEvent(eventID, eventType string, payload []byte, signatureValid bool) (bool, *models.BillingWebhookEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.BillingWebhookEvent{
		ProviderEventID: id,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as handled and stores an optional error.
func (s *Service) MarkWebhookProcessed(webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ProcessEvent dispatches one delivery. Deliveries are at-least-once and
// unordered across event types; every branch is idempotent, and a deleted
// event is taken as authoritative for removal even if an updated event for
// the same subscription arrives afterwards.
func (s *Service) ProcessEvent(ctx context.Context, ev *Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		userID, err := userIDFromCheckout(&ev.Data.Object)
		if err != nil {
			return err
		}
		customerID := strings.TrimSpace(ev.Data.Object.Customer)
		if customerID == "" {
			return errors.New("checkout event missing customer id")
		}
		return s.repo.SetCustomerMapping(userID, customerID)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.SyncSubscription(ctx, ev.Data.Object.ID)

	case EventSubscriptionDeleted:
		customerID := strings.TrimSpace(ev.Data.Object.Customer)
		if customerID == "" {
			return errors.New("subscription deleted event missing customer id")
		}
		return s.repo.DeleteSubscriptionByCustomerID(customerID)

	default:
		return nil
	}
}

// SyncSubscription re-fetches the authoritative subscription object and
// upserts or removes the local record accordingly. The provider round-trip
// happens before any local transaction so a store-level transaction is never
// held open across network I/O.
func (s *Service) SyncSubscription(ctx context.Context, subscriptionID string) error {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return errors.New("subscription event missing subscription id")
	}

	ps, err := s.fetcher.GetSubscription(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", id, err)
	}

	if !IsEntitledStatus(ps.Status) {
		return s.repo.DeleteSubscriptionByCustomerID(ps.CustomerID)
	}

	userID, err := userIDFromMetadata(ps.Metadata)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", id, err)
	}

	sub := &models.Subscription{
		UserID:                userID,
		BillingCustomerID:     ps.CustomerID,
		BillingSubscriptionID: ps.ID,
		PriceID:               ps.PriceID,
		CancelAtPeriodEnd:     ps.CancelAtPeriodEnd,
	}
	if !ps.CurrentPeriodEnd.IsZero() {
		end := ps.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	return s.repo.UpsertSubscriptionByUser(sub)
}

func userIDFromCheckout(obj *EventObject) (uint, error) {
	ref := strings.TrimSpace(obj.ClientReferenceID)
	if ref == "" {
		ref = strings.TrimSpace(obj.Metadata["userId"])
	}
	if ref == "" {
		return 0, errors.New("checkout event missing user reference")
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user reference %q: %w", ref, err)
	}
	return uint(id), nil
}

func userIDFromMetadata(metadata map[string]string) (uint, error) {
	ref := strings.TrimSpace(metadata["userId"])
	if ref == "" {
		return 0, errors.New("subscription metadata missing userId")
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid userId metadata %q: %w", ref, err)
	}
	return uint(id), nil
}
