package dberrors

import "errors"

var (
	// ErrOrderingViolation means a pre-assigned transaction id did not match
	// the next expected committing id. The batch is rejected and nothing is
	// written.
	ErrOrderingViolation = errors.New("txlog: transaction id out of order")

	// ErrRecoveryInconsistency means the log tail does not agree with the
	// stored watermarks. Normal operation must not proceed.
	ErrRecoveryInconsistency = errors.New("txlog: recovered state inconsistent with log tail")

	// ErrStoreUnhealthy means a previous append failed and the log cannot be
	// trusted for further writes until recovery inspects it.
	ErrStoreUnhealthy = errors.New("txlog: storage instance is unhealthy")

	ErrClosed           = errors.New("txlog: closed")
	ErrInvalidArgument  = errors.New("txlog: invalid argument")
	ErrChecksumMismatch = errors.New("txlog: entry checksum mismatch")
) 