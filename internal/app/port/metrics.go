package port

import "time"

// Metrics receives engine measurements.
type Metrics interface {
	QuoteLookup(outcome string)
	UpstreamFetch(source string, ok bool)
	MalformedRecord(kind string)
	NonCanonicalAccount(mintCovered bool)
	PollDuration(resource string, d time.Duration)
	UnpricedHoldings(owner string, n int)
}
