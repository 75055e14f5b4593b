package clientdata

import "time"

// TTL defaults for cached data.
const (
	// Historical NAVs never change once published
	TTLHistoricalNAV = 30 * 24 * time.Hour

	// Latest NAV is refreshed by the provider once per trading day
	TTLLatestNAV = time.Hour

	// Derived positions are invalidated on every ledger change; the TTL only bounds staleness of the NAV inside
	TTLPosition = 15 * time.Minute
)
