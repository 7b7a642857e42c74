package store

import "errors"

var (
	ErrModuleNotFound   = errors.New("module not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNoPending        = errors.New("no pending tickets")
	ErrAlreadyInService = errors.New("module already has a ticket in service")
	ErrNotInService     = errors.New("ticket is not in service")
	ErrInvalidState     = errors.New("ticket state does not allow this action")
	ErrConsistency      = errors.New("tickets left in service after reset")
)
