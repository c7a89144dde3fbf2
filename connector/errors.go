package connector

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAlreadyConnected matches *AlreadyConnectedError via errors.Is.
var ErrAlreadyConnected = errors.New("client already connected to a virtual server")

// ErrServerNotRegistered is returned by Connect for a server that is not (or
// is no longer) the registry's entry for its name.
var ErrServerNotRegistered = errors.New("virtual server is not registered")

// AlreadyConnectedError is returned by Connect when the client already has a
// virtual session. Nothing is changed when it is returned.
type AlreadyConnectedError struct {
	ClientID uuid.UUID
	Username string
	// Server is the name of the server the client is sessioned into, when
	// known.
	Server string
}

func (e *AlreadyConnectedError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("client %s is already connected to a virtual server", e.Username)
	}
	return fmt.Sprintf("client %s is already connected to virtual server %s", e.Username, e.Server)
}

func (e *AlreadyConnectedError) Is(target error) bool { return target == ErrAlreadyConnected }
