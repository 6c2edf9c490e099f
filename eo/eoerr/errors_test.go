package eoerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestInvalidProductErrorMatching(t *testing.T) {
	cause := errors.New("no such file")
	err := fmt.Errorf("load: %w", Band("S2A_X", "B04", "missing calibration", cause))

	if !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct match, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	var ipe *InvalidProductError
	if !errors.As(err, &ipe) {
		t.Fatalf("expected *InvalidProductError, got %T", err)
	}
	if ipe.Band != "B04" {
		t.Fatalf("unexpected band %q", ipe.Band)
	}
	want := "eo: invalid product S2A_X (band B04): missing calibration: no such file"
	if ipe.Error() != want {
		t.Fatalf("unexpected message %q", ipe.Error())
	}
}

func TestCallerContractErrors(t *testing.T) {
	if !errors.Is(&InvalidBandError{Band: "B99"}, ErrInvalidBand) {
		t.Fatalf("expected ErrInvalidBand")
	}
	if errors.Is(&InvalidBandError{Band: "B99"}, ErrInvalidProduct) {
		t.Fatalf("band error must not match ErrInvalidProduct")
	}
	if !errors.Is(&InvalidTypeError{Type: "SNOW"}, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType")
	}
}
