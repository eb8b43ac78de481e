package vvindex

import "errors"

// ErrOverlayMisuse is returned by SetOverlay when it finds the index in
// the WRITE_DOWN state. SetOverlay serializes transitions on an
// internal mutex, so a call that races another transition waits for it
// to finish instead of failing.
var ErrOverlayMisuse = errors.New("vvindex: overlay transition already in progress")
