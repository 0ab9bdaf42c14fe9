package generation

import "time"

const (
	// LegacyExtensionTimeout is the timeout older extension clients
	// hard-coded. It is considered too short and is substituted with the
	// operator-configured override instead of being honored literally.
	LegacyExtensionTimeout = 120000 * time.Millisecond

	// DefaultOverrideTimeout replaces the legacy sentinel when no override is
	// configured.
	DefaultOverrideTimeout = 300000 * time.Millisecond

	// minTimeout is the floor applied to the capability's default, so a
	// misconfigured zero default cannot disable generation outright.
	minTimeout = 100 * time.Millisecond
)

// TimeoutPolicy resolves the effective generation timeout from an optional
// caller-supplied value in milliseconds.
type TimeoutPolicy struct {
	// Override substitutes the legacy sentinel value. Zero means
	// DefaultOverrideTimeout.
	Override time.Duration
}

// Resolve applies the policy: nil falls back to the capability default,
// non-positive values are rejected, the legacy sentinel is substituted with
// the override, and any other positive value is honored literally.
func (p TimeoutPolicy) Resolve(timeoutMS *int, capabilityDefault time.Duration) (time.Duration, error) {
	if timeoutMS == nil {
		if capabilityDefault < minTimeout {
			return minTimeout, nil
		}
		return capabilityDefault, nil
	}
	if *timeoutMS <= 0 {
		return 0, ErrInvalidTimeout
	}

	timeout := time.Duration(*timeoutMS) * time.Millisecond
	if timeout == LegacyExtensionTimeout {
		if p.Override > 0 {
			return p.Override, nil
		}
		return DefaultOverrideTimeout, nil
	}
	return timeout, nil
}
