package ws

import (
	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/wire"
)

func entryToWire(e domain.OnlineEntry) wire.OnlineEntry {
	return wire.OnlineEntry{
		UserID: e.UserID.String(),
		ConnID: e.ConnID.String(),
		Profile: wire.Profile{
			ID:       e.Profile.ID,
			Name:     e.Profile.Name,
			ImageURL: e.Profile.ImageURL,
		},
	}
}

func entriesToWire(entries []domain.OnlineEntry) []wire.OnlineEntry {
	out := make([]wire.OnlineEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToWire(e))
	}
	return out
}

func participantsToWire(p domain.Participants) wire.Participants {
	return wire.Participants{
		Caller:   entryToWire(p.Caller),
		Receiver: entryToWire(p.Receiver),
	}
}
