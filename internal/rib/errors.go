package rib

import (
	"errors"

	"github.com/orbisoperations/catalyst/internal/portalloc"
)

// Typed plan/commit failures. ErrNoSuchRoute is deliberately unused by
// plan: deleting a route that does not exist is treated as idempotent
// success, and the sentinel stays here to document the policy that was
// rejected.
var (
	ErrUnknownPeer     = errors.New("rib: unknown peer")
	ErrDuplicatePeer   = errors.New("rib: duplicate peer")
	ErrNoSuchRoute     = errors.New("rib: no such route")
	ErrUnhandledAction = errors.New("rib: unhandled action kind")
	ErrPortExhausted   = portalloc.ErrPortExhausted
)
