package http

import (
	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/wire"
)

func profileFromWire(p *wire.Profile) *domain.Profile {
	if p == nil {
		return nil
	}
	return &domain.Profile{
		ID:       p.ID,
		Name:     p.Name,
		ImageURL: p.ImageURL,
	}
}

func entryFromWire(e wire.OnlineEntry) domain.OnlineEntry {
	return domain.OnlineEntry{
		UserID: domain.UserID(e.UserID),
		ConnID: domain.ConnID(e.ConnID),
		Profile: domain.Profile{
			ID:       e.Profile.ID,
			Name:     e.Profile.Name,
			ImageURL: e.Profile.ImageURL,
		},
	}
}

func participantsFromWire(p wire.Participants) domain.Participants {
	return domain.Participants{
		Caller:   entryFromWire(p.Caller),
		Receiver: entryFromWire(p.Receiver),
	}
}
