package port

import (
	"github.com/ringlink/ringlink/internal/core/domain"
	"github.com/ringlink/ringlink/wire"
)

// Client is one live connection as seen by the core.
type Client interface {
	ID() domain.ConnID
	Send(env wire.Envelope) error
	Close() error
}
