package port

import "github.com/ringlink/ringlink/internal/core/domain"

// CallTable stores active calls keyed by their unordered participant pair.
// Every method must be atomic with respect to concurrent connections.
type CallTable interface {
	// Put inserts a call. It fails with domain.ErrCallAlreadyActive if the
	// pair, or either participant, is already part of an active call.
	Put(call *domain.Call) error

	// Get resolves the active call for a participant pair.
	Get(pairKey string) (*domain.Call, bool)

	// ByParticipant resolves the active call a user is part of, if any.
	ByParticipant(user domain.UserID) (*domain.Call, bool)

	// Remove deletes a call. Removing an absent key is a no-op.
	Remove(pairKey string)
}
