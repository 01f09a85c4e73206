package billing

import "fmt"

// ValidLeaseTransitions is the lease state machine. Terminated and expired
// are absorbing.
var ValidLeaseTransitions = map[string][]string{
	string(LeaseDraft):      {string(LeaseActive), string(LeaseTerminated)},
	string(LeasePending):    {string(LeaseActive), string(LeaseTerminated)},
	string(LeaseActive):     {string(LeaseTerminated), string(LeaseExpired)},
	string(LeaseTerminated): {},
	string(LeaseExpired):    {},
}

// ValidateTransition checks whether transitioning from current to target is
// allowed according to the given transition map. It returns nil if the
// transition is valid, or a descriptive error otherwise.
func ValidateTransition(transitions map[string][]string, current, target string) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("unknown current state: %s", current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("transition from %q to %q is not allowed", current, target)
}

func leaseTransition(l *Lease, target LeaseStatus) error {
	if err := ValidateTransition(ValidLeaseTransitions, string(l.Status), string(target)); err != nil {
		return ConflictError("lease %s: %v", l.ID, err)
	}
	return nil
}
