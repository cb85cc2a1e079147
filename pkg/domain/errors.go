package domain

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable signals that the entity store could not be reached.
// Lifecycle passes treat it as "skip this pass" rather than hanging.
var ErrStoreUnavailable = errors.New("entity store unavailable")

// ErrNotFound is returned when an operation references a record that does
// not exist in the authoritative maps.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConflictError reports an attempted duplicate pairing: one of the two
// persons already belongs to a family. It is the expected outcome of a
// lost creation race and is never retried.
type ConflictError struct {
	HusbandID int64
	WifeID    int64
	Reason    string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("cannot pair %d and %d: %s", e.HusbandID, e.WifeID, e.Reason)
}

// IneligibleError reports a business-rule rejection, such as a pregnancy
// request for a wife past the fertility ceiling.
type IneligibleError struct {
	FamilyID int64
	Reason   string
}

func (e IneligibleError) Error() string {
	return fmt.Sprintf("family %d ineligible: %s", e.FamilyID, e.Reason)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

// IsIneligible reports whether err is an IneligibleError.
func IsIneligible(err error) bool {
	var i IneligibleError
	return errors.As(err, &i)
}
