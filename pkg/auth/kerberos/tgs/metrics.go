package tgs

import "time"

// Metrics observes engine activity for monitoring. Implementations must
// be safe for concurrent use. A nil Metrics is valid everywhere in this
// package and simply disables observation, the same nil-is-a-no-op
// convention pkg/cache.CacheMetrics uses.
type Metrics interface {
	// ObserveExchange records one completed KDC exchange (C1).
	ObserveExchange(realm string, duration time.Duration, err error)

	// ObserveReferralCache records a referral cache lookup outcome:
	// "hit", "miss", or "exhausted" (MAX_REFERRALS reached without
	// resolving).
	ObserveReferralCache(outcome string)

	// ObserveCapathProbe records one capath probe attempt outcome:
	// "success" or "failure".
	ObserveCapathProbe(outcome string)

	// ObserveDelegateCleared records that the delegate flag was cleared
	// on a final credential because some TGT in the chain was not
	// ok-as-delegate.
	ObserveDelegateCleared()
}

func observeExchange(m Metrics, realm string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ObserveExchange(realm, time.Since(start), err)
}

func observeReferralCache(m Metrics, outcome string) {
	if m != nil {
		m.ObserveReferralCache(outcome)
	}
}

func observeCapathProbe(m Metrics, outcome string) {
	if m != nil {
		m.ObserveCapathProbe(outcome)
	}
}

func observeDelegateCleared(m Metrics) {
	if m != nil {
		m.ObserveDelegateCleared()
	}
}
