package updaterstate

import (
	"fmt"
)

// Status is the confirmation state of the applied bundle.
type Status string

const (
	// StatusPending marks a bundle that was applied but has not confirmed a successful boot yet.
	StatusPending Status = "pending"
	// StatusSuccess marks a bundle that confirmed a successful boot.
	StatusSuccess Status = "success"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSuccess
}

// State is the metadata record persisted below the OTA root.
// It exists once the first update was applied.
type State struct {
	Version string `json:"version"`
	Status  Status `json:"status"`
	// PreviousVersion is the version that was installed when Version got applied.
	// It is empty if the replaced bundle was the one shipped with the application.
	PreviousVersion string `json:"previous_version,omitempty"`
	// FailedVersion is the last version that got rolled back.
	FailedVersion string `json:"failed_version,omitempty"`
	// BootAttempts counts reconciliations that observed the record as pending.
	BootAttempts uint `json:"boot_attempts,omitempty"`
	// BundleHash is the dirhash of the applied bundle, it is only kept while the record is pending.
	BundleHash string `json:"bundle_hash,omitempty"`
}

// NewPending returns the record written when version gets promoted to current.
// The failed version of the record it replaces is carried over.
func NewPending(version string, replaced *State) State {
	s := State{
		Version: version,
		Status:  StatusPending,
	}
	if replaced != nil {
		s.PreviousVersion = replaced.Version
		s.FailedVersion = replaced.FailedVersion
	}
	return s
}

// Validate checks the record read from disk.
func (s *State) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	return nil
}

// IsPending reports whether the applied version still awaits confirmation.
func (s *State) IsPending() bool {
	return s.Status == StatusPending
}

// MarkSuccess confirms the applied version.
func (s *State) MarkSuccess() {
	s.Status = StatusSuccess
	s.BootAttempts = 0
	s.BundleHash = ""
}

// MarkRolledBack updates the record after the backup got restored,
// so that it describes the bundle that is current again.
func (s *State) MarkRolledBack() {
	s.FailedVersion = s.Version
	s.Version = s.PreviousVersion
	s.PreviousVersion = ""
	s.Status = StatusSuccess
	s.BootAttempts = 0
	s.BundleHash = ""
}

// HasFailed reports whether version was rolled back before.
func (s *State) HasFailed(version string) bool {
	return version != "" && s.FailedVersion == version
}
