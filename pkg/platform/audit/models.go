package audit

import (
	"context"
	"time"

	id "idchain/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers identity lifecycle changes with regulatory
	// significance: registrations, approvals, rejections.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers failures that need operator attention, such as
	// ledger writes that did not land.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	// Subject is the record the action applies to, typically a verification
	// or verifier ID.
	Subject string
	Action  string
	Kind    string
	TxHash  string
	Reason  string
	// ActorID tracks who performed the action when different from UserID,
	// e.g. the verifier approving a request.
	ActorID   string
	RequestID string
}

type AuditEvent string

const (
	EventUserRegistered        AuditEvent = "user_registered"
	EventIdentityRegistered    AuditEvent = "identity_registered"
	EventAddressClaimed        AuditEvent = "address_claimed"
	EventProfileUpdated        AuditEvent = "profile_updated"
	EventVerificationRequested AuditEvent = "verification_requested"
	EventVerificationApproved  AuditEvent = "verification_approved"
	EventVerificationRejected  AuditEvent = "verification_rejected"
	EventLedgerWriteFailed     AuditEvent = "ledger_write_failed"
	EventVerifierCreated       AuditEvent = "verifier_created"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventUserRegistered:       CategoryCompliance,
	EventIdentityRegistered:   CategoryCompliance,
	EventAddressClaimed:       CategoryCompliance,
	EventProfileUpdated:       CategoryCompliance,
	EventVerificationApproved: CategoryCompliance,
	EventVerificationRejected: CategoryCompliance,

	EventLedgerWriteFailed: CategorySecurity,
	EventVerifierCreated:   CategorySecurity,

	EventVerificationRequested: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations must honour a transaction
// carried in ctx so events commit atomically with the state change.
type Store interface {
	Append(ctx context.Context, event Event) error
}
