package apps

import "errors"

var (
	// ErrDescriptorNotFound is returned when no descriptor is registered under a name.
	ErrDescriptorNotFound = errors.New("app descriptor not found")

	// ErrAppNotFound is returned when a connected app does not exist.
	ErrAppNotFound = errors.New("connected app not found")

	// ErrInvalidScope is returned when a scope is unknown or not declared by the descriptor.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid app status")

	// ErrAppInUse is returned when a deletion guard refuses to release an app.
	ErrAppInUse = errors.New("connected app in use")

	// ErrInvalidData is returned when an app data blob is not valid JSON.
	ErrInvalidData = errors.New("invalid app data")

	// ErrCapabilityMissing is returned when an app lacks the requested capability.
	ErrCapabilityMissing = errors.New("capability not supported by app")
)
