package redisx

import "time"

const (
	// Supplier rate cache: rates:{product_key} -> JSON SupplierRate
	KeyRate = "rates:%s"

	// Session snapshot: session:{session_id} -> JSON session state
	KeySession = "session:%s"

	// Rate limit window: rl:{scope}:{identity}:{unix_minute} -> counter
	KeyRateLimit = "rl:%s:%s:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSessionSnapshot = 30 * time.Minute
	TTLRateLimit       = 2 * time.Minute
	TTLDedup           = 48 * time.Hour
)
