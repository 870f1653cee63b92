// Package common defines shared sentinel errors used across the mirror
// components. Callers should use errors.Is to match these values.
package common

import "errors"

var (

	// file-system errors that reconciliation treats as "already done"
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotEmpty      = errors.New("not empty")
	ErrIsDirectory   = errors.New("is a directory")

	// remote-store errors that require operator intervention
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")

	// queue lifecycle errors
	ErrQueueStopped = errors.New("queue stopped")

	// ingress errors
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnsupportedEnvelope = errors.New("unsupported envelope")
)
