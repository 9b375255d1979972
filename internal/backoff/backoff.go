// Package backoff implements the capped multiplicative backoff shared by
// the Ingestion Supervisor's reconnect policy, the REST Poller's 5xx
// retry policy, and the Publisher's bus-publish retry policy.
package backoff

import "time"

// Policy is a doubling backoff capped at Max, starting from Initial.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Default is the Ingestion Supervisor's reconnect policy from spec.md
// §4.4: initial 1s, x2, capped at 300s.
func Default() Policy {
	return Policy{Initial: time.Second, Max: 300 * time.Second, Factor: 2}
}

// Next returns the delay for the given attempt (0-based).
func (p Policy) Next(attempt int) time.Duration {
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}
