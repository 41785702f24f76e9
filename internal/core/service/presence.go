package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/internal/core/port"
	"github.com/ringlink/ringlink/internal/metrics"
)

// PresenceService is the directory of online users. It owns every
// OnlineEntry; all mutations are atomic and every mutation (even a no-op one)
// is followed by a broadcast of the full online set.
type PresenceService struct {
	mu      sync.Mutex
	entries map[domain.UserID]domain.OnlineEntry
	byConn  map[domain.ConnID]domain.UserID

	gateway port.RealTimeGateway
	stats   *metrics.Registry
}

func NewPresenceService(gateway port.RealTimeGateway, stats *metrics.Registry) *PresenceService {
	return &PresenceService{
		entries: make(map[domain.UserID]domain.OnlineEntry),
		byConn:  make(map[domain.ConnID]domain.UserID),
		gateway: gateway,
		stats:   stats,
	}
}

// Register inserts or replaces the entry for the given identity. If the same
// identity registers from a second connection, the last-registered connection
// wins. A nil profile is tolerated (the external identity provider produced
// nothing): nothing is inserted but the current set is still broadcast.
func (s *PresenceService) Register(ctx context.Context, connID domain.ConnID, profile *domain.Profile) (domain.OnlineEntry, error) {
	s.mu.Lock()

	if profile == nil || profile.ID == "" {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()

		log.Warn().Str("conn_id", connID.String()).Msg("Registration without identity, broadcasting unchanged set")
		s.broadcast(ctx, snapshot)
		return domain.OnlineEntry{}, domain.ErrIdentityMissing
	}

	userID := domain.UserID(profile.ID)
	if prev, ok := s.entries[userID]; ok && prev.ConnID != connID {
		delete(s.byConn, prev.ConnID)
	}

	entry := domain.OnlineEntry{
		UserID:  userID,
		ConnID:  connID,
		Profile: *profile,
	}
	s.entries[userID] = entry
	s.byConn[connID] = userID

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.stats.Inc(metrics.UsersRegistered)
	log.Info().Str("user_id", userID.String()).Str("conn_id", connID.String()).Int("online", len(snapshot)).Msg("User registered")

	s.broadcast(ctx, snapshot)
	return entry, nil
}

// Unregister removes whatever entry the given connection owns. Idempotent; an
// unknown connection still triggers a broadcast.
func (s *PresenceService) Unregister(ctx context.Context, connID domain.ConnID) {
	s.mu.Lock()

	if userID, ok := s.byConn[connID]; ok {
		// Only drop the entry if this connection still owns it; a newer
		// registration from the same identity must survive.
		if entry, ok := s.entries[userID]; ok && entry.ConnID == connID {
			delete(s.entries, userID)
		}
		delete(s.byConn, connID)
		log.Info().Str("user_id", userID.String()).Str("conn_id", connID.String()).Msg("User unregistered")
	}

	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(ctx, snapshot)
}

// Lookup resolves an identity to its live entry. A missing identity means
// "cannot reach this user", never an error.
func (s *PresenceService) Lookup(userID domain.UserID) (domain.OnlineEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	return entry, ok
}

// Identity resolves the identity registered by a connection.
func (s *PresenceService) Identity(connID domain.ConnID) (domain.UserID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byConn[connID]
	return userID, ok
}

// Snapshot returns the current online set.
func (s *PresenceService) Snapshot() []domain.OnlineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *PresenceService) snapshotLocked() []domain.OnlineEntry {
	out := make([]domain.OnlineEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out
}

func (s *PresenceService) broadcast(ctx context.Context, snapshot []domain.OnlineEntry) {
	if err := s.gateway.BroadcastOnlineUsers(ctx, snapshot); err != nil {
		log.Error().Err(err).Msg("Failed to broadcast online users")
	}
}
