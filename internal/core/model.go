package core

import (
	"strings"
	"time"
)

// AuthVerdict is the outcome of a single sender authentication mechanism
type AuthVerdict string

const (
	AuthNone AuthVerdict = "none"
	AuthPass AuthVerdict = "pass"
	AuthFail AuthVerdict = "fail"
)

// ParseAuthVerdict normalizes a header-derived verdict string
func ParseAuthVerdict(s string) AuthVerdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return AuthPass
	case "fail", "softfail", "hardfail", "permerror", "temperror":
		return AuthFail
	default:
		return AuthNone
	}
}

// AuthResults holds the SPF/DKIM/DMARC verdicts for a message
type AuthResults struct {
	SPF   AuthVerdict `json:"spf"`
	DKIM  AuthVerdict `json:"dkim"`
	DMARC AuthVerdict `json:"dmarc"`
}

// Verdict returns the verdict for a mechanism name (spf, dkim, dmarc)
func (a AuthResults) Verdict(mechanism string) AuthVerdict {
	var v AuthVerdict
	switch strings.ToLower(mechanism) {
	case "spf":
		v = a.SPF
	case "dkim":
		v = a.DKIM
	case "dmarc":
		v = a.DMARC
	}
	if v == "" {
		return AuthNone
	}
	return ParseAuthVerdict(string(v))
}

// AllFail reports whether every listed mechanism failed
func (a AuthResults) AllFail(mechanisms []string) bool {
	if len(mechanisms) == 0 {
		return false
	}
	for _, m := range mechanisms {
		if a.Verdict(m) != AuthFail {
			return false
		}
	}
	return true
}

// AnyFail reports whether at least one mechanism failed
func (a AuthResults) AnyFail() bool {
	return a.Verdict("spf") == AuthFail || a.Verdict("dkim") == AuthFail || a.Verdict("dmarc") == AuthFail
}

// AllPass reports whether all three mechanisms passed
func (a AuthResults) AllPass() bool {
	return a.Verdict("spf") == AuthPass && a.Verdict("dkim") == AuthPass && a.Verdict("dmarc") == AuthPass
}

// Message represents a normalized email message
type Message struct {
	ID             string      `json:"id"`
	Sender         string      `json:"sender"`
	DisplayName    string      `json:"display_name"`
	Subject        string      `json:"subject"`
	Body           string      `json:"body"`
	Auth           AuthResults `json:"auth"`
	EnvelopeDomain string      `json:"envelope_domain"`
	DisplayDomain  string      `json:"display_domain"`
}

// LocalPart returns the lower-cased part of the sender address before the @
func (m *Message) LocalPart() string {
	local, _ := splitAddress(m.Sender)
	return local
}

// SenderDomain returns the sender domain, preferring the display domain
func (m *Message) SenderDomain() string {
	if d := normalizeDomain(m.DisplayDomain); d != "" {
		return d
	}
	_, domain := splitAddress(m.Sender)
	if domain != "" {
		return domain
	}
	return normalizeDomain(m.EnvelopeDomain)
}

func splitAddress(addr string) (string, string) {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return strings.ToLower(addr), ""
	}
	return strings.ToLower(addr[:at]), normalizeDomain(addr[at+1:])
}

func normalizeDomain(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

// Category is a top-level classification label
type Category string

const (
	CategoryDangerous      Category = "Dangerous"
	CategoryFraudScam      Category = "Fraud/Scam"
	CategoryCommercialBulk Category = "Commercial/Bulk"
	CategoryLegitimate     Category = "Legitimate"
	CategoryNeedsReview    Category = "Needs Review"
)

// Disposition is the action the operator tool should take
type Disposition string

const (
	DispositionPreserve Disposition = "preserve"
	DispositionDelete   Disposition = "delete"
)

// ClassificationResult represents the outcome of classifying a message
type ClassificationResult struct {
	MessageID         string      `json:"message_id"`
	Category          Category    `json:"category"`
	Subcategory       string      `json:"subcategory"`
	Confidence        float64     `json:"confidence"`
	DecidingTier      string      `json:"deciding_tier"`
	Evidence          []string    `json:"evidence"`
	Disposition       Disposition `json:"disposition"`
	Degraded          bool        `json:"degraded,omitempty"`
	FallbackValidated bool        `json:"fallback_validated,omitempty"`
}

// TrustSource describes where a domain trust score came from
type TrustSource string

const (
	SourceCached   TrustSource = "cached"
	SourceFresh    TrustSource = "fresh"
	SourceFallback TrustSource = "fallback"
)

// DomainRecord is a cached trust score for a sending domain
type DomainRecord struct {
	Domain       string        `json:"domain"`
	TrustScore   float64       `json:"trust_score"`
	Reason       string        `json:"reason"`
	RegisteredAt time.Time     `json:"registered_at"`
	LastChecked  time.Time     `json:"last_checked"`
	TTL          time.Duration `json:"ttl"`
	Source       TrustSource   `json:"source"`
}

// ExpiresAt returns the moment the record stops being served
func (r *DomainRecord) ExpiresAt() time.Time {
	return r.LastChecked.Add(r.TTL)
}

// Expired reports whether the record's TTL has elapsed at now
func (r *DomainRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt())
}

// Registration is the answer of an external domain-registration lookup
type Registration struct {
	Domain    string
	CreatedAt time.Time
	Registrar string
}

// FeedbackAction is what a human did with a proposed result
type FeedbackAction string

const (
	FeedbackRejected FeedbackAction = "rejected"
	FeedbackAccepted FeedbackAction = "accepted"
)

// FeedbackEvent records one human verdict on a proposed result
type FeedbackEvent struct {
	SessionID  string         `json:"session_id"`
	MessageID  string         `json:"message_id"`
	Action     FeedbackAction `json:"action"`
	Category   Category       `json:"category"`
	Offered    Category       `json:"offered"`
	OccurredAt time.Time      `json:"occurred_at"`
}
