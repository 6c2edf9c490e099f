// Package eoerr defines the error taxonomy shared by the product, band, mask
// and radiometry packages.
package eoerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProduct marks malformed or unsupported metadata and missing mandatory files.
	ErrInvalidProduct = errors.New("eo: invalid product")
	// ErrInvalidBand marks a request for a band the product does not define.
	ErrInvalidBand = errors.New("eo: invalid band")
	// ErrInvalidType marks a request for a mask condition or data type the product does not define.
	ErrInvalidType = errors.New("eo: invalid type")
)

// InvalidProductError is fatal to the affected product or band. It is never retried.
type InvalidProductError struct {
	Product string
	Band    string
	Reason  string
	Err     error
}

// Error implements the error interface.
func (e *InvalidProductError) Error() string {
	msg := "eo: invalid product"
	if e.Product != "" {
		msg += " " + e.Product
	}
	if e.Band != "" {
		msg += " (band " + e.Band + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *InvalidProductError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInvalidProduct.
func (e *InvalidProductError) Is(target error) bool { return target == ErrInvalidProduct }

// InvalidBandError is a caller contract violation: the band is not mapped.
type InvalidBandError struct {
	Band   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidBandError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("eo: invalid band %q", e.Band)
	}
	return fmt.Sprintf("eo: invalid band %q: %s", e.Band, e.Reason)
}

// Is reports whether target is ErrInvalidBand.
func (e *InvalidBandError) Is(target error) bool { return target == ErrInvalidBand }

// InvalidTypeError is a caller contract violation: the requested mask condition
// or data type is not defined for the product.
type InvalidTypeError struct {
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidTypeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("eo: invalid type %q", e.Type)
	}
	return fmt.Sprintf("eo: invalid type %q: %s", e.Type, e.Reason)
}

// Is reports whether target is ErrInvalidType.
func (e *InvalidTypeError) Is(target error) bool { return target == ErrInvalidType }

// Product builds an InvalidProductError for a whole product.
func Product(product, reason string, err error) error {
	return &InvalidProductError{Product: product, Reason: reason, Err: err}
}

// Band builds an InvalidProductError scoped to a single band.
func Band(product, band, reason string, err error) error {
	return &InvalidProductError{Product: product, Band: band, Reason: reason, Err: err}
}
