package port

import (
	"context"

	"github.com/ringlink/ringlink/internal/core/domain"
)

// RealTimeGateway delivers events to live connections. Targeted sends fail
// softly: a missing connection is not an error, the disconnect cascade is
// expected to clean up.
type RealTimeGateway interface {
	// BroadcastOnlineUsers pushes the full online set to every connection.
	BroadcastOnlineUsers(ctx context.Context, entries []domain.OnlineEntry) error

	// SendIncomingCall rings the callee's connection.
	SendIncomingCall(ctx context.Context, conn domain.ConnID, participants domain.Participants) error

	// SendSignal forwards an opaque negotiation payload verbatim.
	SendSignal(ctx context.Context, conn domain.ConnID, neg domain.Negotiation) error

	// SendHangup notifies a participant that the call ended.
	SendHangup(ctx context.Context, conn domain.ConnID, participants domain.Participants, initiator domain.UserID) error

	// SendCallFailed tells a caller why its call request was rejected.
	SendCallFailed(ctx context.Context, conn domain.ConnID, reason string) error
}
