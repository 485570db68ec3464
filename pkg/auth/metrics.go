package auth

import "time"

// Metrics defines the interface for tracking credential and storage operations.
type Metrics interface {
	// RecordAuthentication records a bearer resolution attempt.
	// result: "success", "invalid_format", "unknown_key" or "error"
	RecordAuthentication(result string)

	// RecordKeyIssued records a newly minted key for a user on tier.
	RecordKeyIssued(tier string)

	// RecordKeyRevoked records a successful revocation.
	RecordKeyRevoked()

	// RecordQuotaRejection records a key creation refused by the tier cap.
	RecordQuotaRejection(tier string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCacheHit records a key lookup served from cache.
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a key lookup that fell through to storage.
	RecordCacheMiss(cacheType string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAuthentication(result string)                                         {}
func (n *NoopMetrics) RecordKeyIssued(tier string)                                                {}
func (n *NoopMetrics) RecordKeyRevoked()                                                          {}
func (n *NoopMetrics) RecordQuotaRejection(tier string)                                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCacheHit(cacheType string)                                            {}
func (n *NoopMetrics) RecordCacheMiss(cacheType string)                                           {}
