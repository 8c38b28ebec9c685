// Package fault defines the error taxonomy shared by the control loop.
// Components wrap these sentinels with context; callers match with errors.Is.
package fault

import "errors"

var (
	// ErrTransientLink is a failed connect attempt. Retried via backoff.
	ErrTransientLink = errors.New("transient link failure")

	// ErrTransientUpload is a failed record transmission. The record stays pending.
	ErrTransientUpload = errors.New("transient upload failure")

	// ErrStorageUnavailable means the storage collaborator could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRemoteUnavailable means the update server could not be reached.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrStaleBattery means the last battery sample is too old to trust.
	ErrStaleBattery = errors.New("stale battery reading")

	// ErrVoltageOutOfRange means the battery sample is physically implausible.
	ErrVoltageOutOfRange = errors.New("battery voltage out of range")

	// ErrConfigInconsistent is fatal at startup.
	ErrConfigInconsistent = errors.New("configuration inconsistency")

	// ErrVerification means a firmware image failed digest or signature checks.
	ErrVerification = errors.New("firmware verification failed")
)
