package identity

import "errors"

var (
	// ErrNotRegistrar is returned when the caller is not on the registrar
	// allow-list.
	ErrNotRegistrar = errors.New("caller is not a registrar")

	// ErrNotOwner is returned for owner-only operations.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotPendingOwner is returned when AcceptOwnership is called by anyone
	// but the nominated owner.
	ErrNotPendingOwner = errors.New("caller is not the pending owner")

	// ErrDuplicateName is returned when the name hash already maps to a
	// different address.
	ErrDuplicateName = errors.New("name already attested to another address")

	// ErrNotAttested is returned for queries and revocations against an
	// address with no identity record.
	ErrNotAttested = errors.New("address is not attested")
)
