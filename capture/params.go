package capture

import (
	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
)

// PathMatchDecision is the result of consulting the external exclusion
// matcher for one path.
type PathMatchDecision int

const (
	PathInclude PathMatchDecision = iota
	PathExclude
)

// PathMatcher decides whether path should be captured. A non-nil error
// propagates and aborts the walk.
type PathMatcher func(path string) (PathMatchDecision, error)

// HookDecision is the capture-error hook's verdict on a per-entry
// failure.
type HookDecision int

const (
	// HookPropagate re-raises the error, tearing down the partially
	// built subtree.
	HookPropagate HookDecision = iota
	// HookContinue suppresses the error and skips the offending entry.
	HookContinue
)

// ErrorHook is invoked for every per-entry error encountered during the
// walk; it may downgrade a failure to "continue".
type ErrorHook func(path string, err error) HookDecision

// ProgressKind is the outcome reported per directory entry processed.
type ProgressKind int

const (
	ProgressOK ProgressKind = iota
	ProgressExcluded
	ProgressUnsupported
)

// ProgressFunc is called once per directory entry the walk visits
// (including excluded and unsupported ones); an inode reached through
// several hard links is reported once per link.
type ProgressFunc func(path string, kind ProgressKind)

// Params bundles the per-run capture policies.
type Params struct {
	// RPFix, when set, clears the NOT_FIXED reparse flag on symlinks
	// (step 9): a full-volume capture means every path is already
	// self-consistent relative to the new mount point.
	RPFix bool

	// NoACLs skips security-descriptor collection entirely (step 10).
	NoACLs bool

	// StrictUnsupportedExclusion turns encrypted-file detection into a
	// hard failure instead of a silent "unsupported" skip (step 4).
	StrictUnsupportedExclusion bool

	Matcher  PathMatcher
	ErrHook  ErrorHook
	Progress ProgressFunc

	// RunID tags this capture run; BuildTree includes it in its
	// completion log line. Other log lines and the ErrHook arguments do
	// not carry it.
	RunID uuid.UUID

	// Clock times the walk for the completion log line; tests inject a
	// timeutil.SimulatedClock to make elapsed-time assertions
	// deterministic instead of sleeping real wall-clock time.
	Clock timeutil.Clock
}

// NewParams returns Params with a fresh RunID and permissive defaults:
// everything included, every error propagated, progress discarded.
func NewParams() Params {
	return Params{
		Matcher:  func(string) (PathMatchDecision, error) { return PathInclude, nil },
		ErrHook:  func(string, error) HookDecision { return HookPropagate },
		Progress: func(string, ProgressKind) {},
		RunID:    uuid.New(),
		Clock:    timeutil.RealClock(),
	}
}
