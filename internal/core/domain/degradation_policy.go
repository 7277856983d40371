package domain

import "strings"

// DegradationPolicyMode enumerates how request guards behave when their backing store is unavailable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets requests through when the guard cannot reach its store.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects requests whenever the guard cannot decide.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason names the guard that failed.
type DegradationReason string

// DegradationReasonRateLimitUnavailable is reported when the rate limit store cannot be reached.
const DegradationReasonRateLimitUnavailable DegradationReason = "rate_limit_unavailable"

// DegradationPolicy centralises the fail-open or fail-closed decision for rate limiting.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	if strings.EqualFold(strings.TrimSpace(value), string(DegradationPolicyModeStrict)) {
		return DegradationPolicyModeStrict
	}
	return DegradationPolicyModeLenient
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	if p.mode == "" {
		return DegradationPolicyModeLenient
	}
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback reports whether a request may proceed after the guard failed for reason.
func (p DegradationPolicy) AllowsFallback(_ DegradationReason) bool {
	return !p.IsStrict()
}
