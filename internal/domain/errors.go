package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrParseFailure is returned when an ingredient line yields no name
	ErrParseFailure = errors.New("ingredient line could not be parsed")

	// ErrUnknownUnit is returned for unit tokens missing from the catalog
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrInconvertible is returned when two units cannot be converted
	ErrInconvertible = errors.New("unsupported unit conversion")

	// ErrUnitNotAllowed is returned when a record's unit breaks its category rule
	ErrUnitNotAllowed = errors.New("unit not allowed for category")

	// ErrInvalidOverride is returned when a client-supplied plan fails validation
	ErrInvalidOverride = errors.New("invalid client override")

	// ErrOverAllocation is returned when a plan consumes more than a record holds
	ErrOverAllocation = errors.New("allocation exceeds available quantity")

	// ErrConflict is returned when inventory changed after the plan was computed
	ErrConflict = errors.New("inventory changed since plan was computed")

	// ErrRecordNotFound is returned when an inventory record does not exist
	ErrRecordNotFound = errors.New("inventory record not found")

	// ErrStoreUnavailable is returned when the inventory store fails
	ErrStoreUnavailable = errors.New("inventory store unavailable")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrDensityUnknown is returned when no density source knows an ingredient
	ErrDensityUnknown = errors.New("density unknown")

	// ErrFoodNotFound is returned when a food cannot be found in USDA database
	ErrFoodNotFound = errors.New("food not found in USDA database")

	// ErrUSDAAPIFailure is returned when USDA API request fails
	ErrUSDAAPIFailure = errors.New("USDA API request failed")
)

// ParseError reports why one ingredient line could not be read.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParseFailure }

// OverrideError rejects a client override with the offending ingredient/record.
type OverrideError struct {
	Ingredient string
	RecordID   string
	Reason     string
}

func (e *OverrideError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("override for %q: %s", e.Ingredient, e.Reason)
	}
	return fmt.Sprintf("override for %q, record %s: %s", e.Ingredient, e.RecordID, e.Reason)
}

func (e *OverrideError) Unwrap() error { return ErrInvalidOverride }

// ConflictError lists every record whose conditional update failed.
type ConflictError struct {
	RecordIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), strings.Join(e.RecordIDs, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
