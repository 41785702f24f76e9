package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ringlink/ringlink/internal/adapter/driven/call/memory"
	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/internal/metrics"
)

// fakeGateway records every delivery so tests can assert on exact targets.
type fakeGateway struct {
	mu         sync.Mutex
	broadcasts [][]domain.OnlineEntry
	incoming   []sentIncoming
	signals    []sentSignal
	hangups    []sentHangup
	failures   []sentFailure
}

type sentIncoming struct {
	conn         domain.ConnID
	participants domain.Participants
}

type sentSignal struct {
	conn domain.ConnID
	neg  domain.Negotiation
}

type sentHangup struct {
	conn         domain.ConnID
	participants domain.Participants
	initiator    domain.UserID
}

type sentFailure struct {
	conn   domain.ConnID
	reason string
}

func (g *fakeGateway) BroadcastOnlineUsers(_ context.Context, entries []domain.OnlineEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, entries)
	return nil
}

func (g *fakeGateway) SendIncomingCall(_ context.Context, conn domain.ConnID, participants domain.Participants) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incoming = append(g.incoming, sentIncoming{conn, participants})
	return nil
}

func (g *fakeGateway) SendSignal(_ context.Context, conn domain.ConnID, neg domain.Negotiation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signals = append(g.signals, sentSignal{conn, neg})
	return nil
}

func (g *fakeGateway) SendHangup(_ context.Context, conn domain.ConnID, participants domain.Participants, initiator domain.UserID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hangups = append(g.hangups, sentHangup{conn, participants, initiator})
	return nil
}

func (g *fakeGateway) SendCallFailed(_ context.Context, conn domain.ConnID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = append(g.failures, sentFailure{conn, reason})
	return nil
}

func (g *fakeGateway) broadcastCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.broadcasts)
}

func (g *fakeGateway) lastBroadcast() []domain.OnlineEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.broadcasts) == 0 {
		return nil
	}
	return g.broadcasts[len(g.broadcasts)-1]
}

func (g *fakeGateway) sentIncoming() []sentIncoming {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentIncoming(nil), g.incoming...)
}

func (g *fakeGateway) sentSignals() []sentSignal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentSignal(nil), g.signals...)
}

func (g *fakeGateway) sentHangups() []sentHangup {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentHangup(nil), g.hangups...)
}

func (g *fakeGateway) sentFailures() []sentFailure {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentFailure(nil), g.failures...)
}

type testEnv struct {
	presence *PresenceService
	calls    *CallService
	gateway  *fakeGateway
	stats    *metrics.Registry
}

func newTestEnv(ringTimeout time.Duration) *testEnv {
	gw := &fakeGateway{}
	stats := metrics.New()
	presence := NewPresenceService(gw, stats)
	calls := NewCallService(memory.NewCallTable(), presence, gw, stats, ringTimeout)
	return &testEnv{
		presence: presence,
		calls:    calls,
		gateway:  gw,
		stats:    stats,
	}
}

func (e *testEnv) register(t *testing.T, user, conn string) domain.OnlineEntry {
	t.Helper()
	entry, err := e.presence.Register(context.Background(), domain.ConnID(conn), &domain.Profile{ID: user, Name: user})
	require.NoError(t, err)
	return entry
}
