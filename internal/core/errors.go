// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet parsing errors
	ErrMalformedPacket = errors.New("leakwatch: malformed packet")
	ErrUnknownProtocol = errors.New("leakwatch: unknown transport protocol")

	// Pattern automaton errors
	ErrAutomatonBuild = errors.New("leakwatch: automaton build failed")
	ErrNoPatterns     = errors.New("leakwatch: no search patterns configured")

	// Capture file errors
	ErrCaptureWrite  = errors.New("leakwatch: capture write failed")
	ErrCaptureClosed = errors.New("leakwatch: capture file closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("leakwatch: invalid configuration")
)
