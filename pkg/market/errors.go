package market

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects a submission with a non-positive amount.
	ErrInvalidAmount = errors.New("order amount must be positive")
	// ErrInvalidPrice rejects a limit submission with a non-positive price.
	ErrInvalidPrice = errors.New("limit order price must be positive")
	// ErrOrderNotFound means the order id is not tracked by this connector.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVenueOrderUnknown is the venue's "no such order" reply, as opposed
	// to a transport failure.
	ErrVenueOrderUnknown = errors.New("venue does not know the order")
)

// VenueError wraps a failure to reach the venue or a venue-side rejection.
// Status carries the HTTP code when the transport is HTTP, zero otherwise.
type VenueError struct {
	Venue  string
	Op     string
	Status int
	Err    error
}

func (e *VenueError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: http %d: %v", e.Venue, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }
