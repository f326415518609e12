package locker

// SetOperatorAuthorization grants or revokes the renewal capability for a
// principal. Only the ledger owner may call it; the owner itself is
// implicitly authorized and cannot be revoked. The operation is idempotent.
func (e *Engine) SetOperatorAuthorization(operator [20]byte, enabled bool, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrOnlyOwner
	}
	if operator == e.owner && !enabled {
		return ErrOwnerOperator
	}
	if err := e.state.LockerOperatorSet(operator, enabled); err != nil {
		return err
	}
	e.emit(NewOperatorAuthorizedEvent(operator, enabled))
	return nil
}

// IsAuthorizedOperator reports whether the principal may trigger
// renewal-related operations on behalf of record owners.
func (e *Engine) IsAuthorizedOperator(operator [20]byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isAuthorizedLocked(operator)
}

func (e *Engine) isAuthorizedLocked(operator [20]byte) bool {
	if operator == e.owner {
		return true
	}
	if e.state == nil {
		return false
	}
	enabled, err := e.state.LockerOperatorGet(operator)
	if err != nil {
		return false
	}
	return enabled
}
