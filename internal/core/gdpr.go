package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Masked is shown in place of a field that could not be decrypted.
const Masked = "********"

// Backend procedure names.
const (
	ProcDeleteCustomerData = "delete_customer_data"
	ProcDecryptField       = "decrypt_field"
)

// ErrNoRows is returned by backends when a mutation matched nothing.
var ErrNoRows = errors.New("no matching rows")

// GDPRService performs the data-protection operations on customers. Every
// operation is written to the compliance log with the actor from ctx.
type GDPRService struct {
	layer *DataLayer
	now   func() time.Time
}

func NewGDPRService(layer *DataLayer) *GDPRService {
	return &GDPRService{layer: layer, now: time.Now}
}

// RecordConsent marks a customer as having given GDPR consent now.
func (s *GDPRService) RecordConsent(ctx context.Context, customerID string) error {
	if customerID == "" {
		return &InvalidFilterError{Entity: EntityCustomers, Field: "id", Reason: "customer id is required"}
	}

	changes := map[string]any{
		"gdpr_consent":      true,
		"gdpr_consent_date": s.now().UTC().Format(time.RFC3339),
	}
	err := s.layer.Mutate(ctx, EntityCustomers, changes, map[string]any{"id": customerID})
	if errors.Is(err, ErrNoRows) {
		return fmt.Errorf("record consent: customer not found: %s: %w", customerID, err)
	}
	if err != nil {
		return fmt.Errorf("record consent: %w", err)
	}

	s.audit(ctx, "gdpr consent recorded", customerID)
	return nil
}

// EraseCustomerData runs the backend's erasure procedure for a customer and
// invalidates everything that may have referenced them.
func (s *GDPRService) EraseCustomerData(ctx context.Context, customerID string) error {
	if customerID == "" {
		return &InvalidFilterError{Entity: EntityCustomers, Field: "id", Reason: "customer id is required"}
	}

	_, err := s.layer.CallProcedure(ctx, ProcDeleteCustomerData, map[string]any{"customer_id": customerID})
	if errors.Is(err, ErrNoRows) {
		return fmt.Errorf("erase customer data: customer not found: %s: %w", customerID, err)
	}
	if err != nil {
		return fmt.Errorf("erase customer data: %w", err)
	}

	for _, entity := range []Entity{EntityCustomers, EntityOrders, EntityInvoices, EntityAuditLogs} {
		s.layer.invalidate(entity)
	}

	s.audit(ctx, "gdpr erasure completed", customerID)
	return nil
}

// DecryptField asks the backend to decrypt a stored value. Any failure
// yields Masked rather than an error.
func (s *GDPRService) DecryptField(ctx context.Context, encrypted string) string {
	if encrypted == "" {
		return ""
	}

	out, err := s.layer.CallProcedure(ctx, ProcDecryptField, map[string]any{"encrypted_value": encrypted})
	if err != nil {
		slog.Warn("decryption failed", "error", err, "actor", ActorFromContext(ctx))
		return Masked
	}

	plain, ok := out.(string)
	if !ok {
		slog.Warn("decryption returned non-text value", "type", fmt.Sprintf("%T", out))
		return Masked
	}
	return plain
}

func (s *GDPRService) audit(ctx context.Context, msg, customerID string) {
	slog.Info(msg,
		"customer_id", customerID,
		"actor", ActorFromContext(ctx),
		"ip", IPAddressFromContext(ctx),
		"user_agent", UserAgentFromContext(ctx),
	)
}
