package eventstore

import "libranexus/pkg/apperror"

// Sentinel causes wrapped by apperror.Error so callers can check either the
// underlying cause (errors.Is(err, eventstore.ErrConcurrencyConflict)) or
// the taxonomy code (apperror.Is(err, apperror.CodeConcurrencyConflict)).
var (
	ErrConcurrencyConflict = apperror.New(apperror.CodeConcurrencyConflict, "version mismatch on append", nil)
	ErrDuplicateEvent      = apperror.New(apperror.CodeDuplicateEvent, "aggregateId/version already recorded", nil)
	ErrInvalidVersion      = apperror.New(apperror.CodeValidation, "invalid expected version", nil)
	ErrEmptyAggregateID    = apperror.New(apperror.CodeValidation, "aggregateId must not be empty", nil)
	ErrEventStoreDown      = apperror.New(apperror.CodeEventStoreDown, "event store unreachable", nil)
)
