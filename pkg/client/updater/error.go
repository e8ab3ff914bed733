package updater

import "fmt"

// UpdaterError is returned by the Client for failures that abort an operation.
// Both the kind and the cause can be matched with errors.Is.
type UpdaterError struct {
	cause error
	kind  error
}

func (u UpdaterError) Error() string {
	if u.cause == nil {
		return u.kind.Error()
	}
	return fmt.Sprintf("%s: %s", u.kind.Error(), u.cause.Error())
}

func (u UpdaterError) Unwrap() []error {
	if u.cause == nil {
		return []error{u.kind}
	}
	return []error{u.kind, u.cause}
}

// Kind returns the sentinel error describing the failed step.
func (u UpdaterError) Kind() error {
	return u.kind
}

func NewUpdaterError(kind error, cause error) error {
	return UpdaterError{
		cause: cause,
		kind:  kind,
	}
}

var (
	ErrDownloadFailed       = fmt.Errorf("failed to download update")
	ErrVerificationFailed   = fmt.Errorf("failed to verify update")
	ErrExtractFailed        = fmt.Errorf("failed to extract update")
	ErrBundleMissing        = fmt.Errorf("bundle missing after extraction")
	ErrFailedChecks         = fmt.Errorf("failed checks")
	ErrFailedToApplyUpdate  = fmt.Errorf("failed to apply update")
	ErrFailedToCreateBackup = fmt.Errorf("failed to create backup")
	ErrRollbackFailed       = fmt.Errorf("failed to roll back")
	ErrConfirmFailed        = fmt.Errorf("failed to confirm update")
	ErrCorruptState         = fmt.Errorf("corrupt OTA state")
	ErrFailedHealthChecks   = fmt.Errorf("failed health checks")
)
