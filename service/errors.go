package service

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized to access this order")
	ErrInvalidState = errors.New("invalid order state")
	ErrProcessing   = errors.New("order processing failed")
	ErrIntegrity    = errors.New("order data integrity violation")

	// ErrConcurrentUpdate accompanies ErrInvalidState when another writer
	// changed the order between read and write.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	// ErrUnavailable accompanies ErrProcessing when a collaborator could not
	// be reached.
	ErrUnavailable = errors.New("collaborator unavailable")
)
