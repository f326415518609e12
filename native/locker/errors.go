package locker

import "errors"

var (
	ErrInsufficientDeposit = errors.New("locker: deposit below minimum")
	ErrDuplicateStorage    = errors.New("locker: piece already registered")
	ErrStorageNotFound     = errors.New("locker: storage not found")
	ErrNotOwner            = errors.New("locker: caller is not the record owner")
	ErrOnlyOwner           = errors.New("locker: caller is not the ledger owner")
	ErrUnauthorized        = errors.New("locker: caller is not an authorized operator")
	ErrStorageStillActive  = errors.New("locker: storage deal is still active")
	ErrStorageRetired      = errors.New("locker: storage record is retired")
	ErrOwnerOperator       = errors.New("locker: ledger owner cannot be deauthorized")
	ErrInsufficientEscrow  = errors.New("locker: escrow balance underflow")
	ErrUnsupportedToken    = errors.New("locker: unsupported payment token")

	errNilState = errors.New("locker engine: state not configured")
)
