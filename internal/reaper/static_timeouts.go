package reaper

import "context"

// StaticTimeouts is the default EnvironmentTimeouts: every environment
// gets the same configured idle timeout and none are self-managed. The
// environment registry that could override this per environment is
// provisioned outside this relay (spec §2, out of scope).
type StaticTimeouts struct {
	TimeoutSeconds int
}

// IdleTimeoutSeconds implements EnvironmentTimeouts.
func (s StaticTimeouts) IdleTimeoutSeconds(ctx context.Context, environmentID string) (int, bool, error) {
	return s.TimeoutSeconds, false, nil
}
