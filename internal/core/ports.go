package core

import (
	"context"
	"time"
)

// DomainCache is the shared, in-process store of domain trust records
type DomainCache interface {
	// Get returns a copy of the record for domain if present and not expired
	Get(domain string) (*DomainRecord, bool)

	// Set inserts or replaces the record for its domain
	Set(record *DomainRecord)

	// Delete removes a record
	Delete(domain string)

	// Cleanup removes expired records and returns how many were dropped
	Cleanup(now time.Time) int

	// Len returns the number of records held
	Len() int
}

// DomainStore persists domain records across runs. It is a performance
// cache and may be discarded at any time.
type DomainStore interface {
	// Load returns every unexpired record
	Load(ctx context.Context) ([]*DomainRecord, error)

	// Save upserts a record
	Save(ctx context.Context, record *DomainRecord) error

	// Delete removes a record
	Delete(ctx context.Context, domain string) error

	// Cleanup removes expired records
	Cleanup(ctx context.Context) (int64, error)

	Close() error
}

// RegistrationLookup queries an external registry (WHOIS, RDAP) for a domain
type RegistrationLookup interface {
	Lookup(ctx context.Context, domain string) (*Registration, error)
}

// EventRecorder persists classification and feedback history on behalf of
// the surrounding application
type EventRecorder interface {
	RecordResult(ctx context.Context, result *ClassificationResult) error
	RecordFeedback(ctx context.Context, event *FeedbackEvent) error
}
