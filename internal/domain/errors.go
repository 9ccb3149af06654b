package domain

import "errors"

// Each condition a caller must be able to tell apart has its own sentinel.
// Typed errors elsewhere carry detail and match these through errors.Is.
var (
	ErrNotFound                           = errors.New("not found")
	ErrNoChecklistConfigured              = errors.New("no checklist configured")
	ErrEmptyChecklist                     = errors.New("checklist has no items")
	ErrZeroWeightChecklist                = errors.New("checklist items have zero total weight")
	ErrForbidden                          = errors.New("forbidden")
	ErrInvalidTransition                  = errors.New("invalid status transition")
	ErrConcurrentModification             = errors.New("asset modified concurrently; reload and retry")
	ErrPersistFailedAfterOptimisticUpdate = errors.New("persist failed after optimistic update")

	ErrInvalidChecklist  = errors.New("invalid checklist")
	ErrInvalidEvaluation = errors.New("invalid evaluation")
	ErrInvalidInput      = errors.New("invalid input")
)
