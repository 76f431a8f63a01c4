// Package signals turns a normalized message into typed, named signals.
// Extraction is pure: no I/O, no errors, missing fields yield neutral values.
package signals

import (
	"github.com/mikey/mail-triage/internal/core"
)

// Stable signal names, used as evidence keys
const (
	SigKeyword             = "keyword"
	SigDomainEntropy       = "domain_entropy"
	SigGibberishDomain     = "gibberish_domain"
	SigAuthSPF             = "auth_spf"
	SigAuthDKIM            = "auth_dkim"
	SigAuthDMARC           = "auth_dmarc"
	SigAuthAllPass         = "auth_all_pass"
	SigAuthAnyFail         = "auth_any_fail"
	SigDomainMismatch      = "domain_mismatch"
	SigBrandMention        = "brand_mention"
	SigBrandImpersonation  = "brand_impersonation"
	SigTransactional       = "transactional"
	SigSubscriptionWarning = "subscription_warning"
	SigRecognizedDomain    = "recognized_domain"
	SigURLCount            = "url_count"
	SigCapsRatio           = "caps_ratio"
	SigExclamations        = "exclamation_count"
	SigBodyLength          = "body_length"
)

// Kind distinguishes the shape of a signal value
type Kind int

const (
	// Numeric signals carry a score in Value
	Numeric Kind = iota
	// Flag signals are present only when true; Value is 1
	Flag
	// Hint signals point at a category with a confidence in Value
	Hint
)

// Signal is one typed observation about a message
type Signal struct {
	Name     string
	Kind     Kind
	Value    float64
	Category core.Category
	Detail   string
}

// Key returns the evidence key for the signal
func (s Signal) Key() string {
	if s.Detail == "" {
		return s.Name
	}
	return s.Name + ":" + s.Detail
}

// PhraseMatch is a matched lexicon phrase
type PhraseMatch struct {
	Phrase      string
	Category    core.Category
	Subcategory string
	Confidence  float64
	Specificity float64
}

// SignalSet is everything the extractors know about one message
type SignalSet struct {
	MessageID         string
	Domain            string
	RegistrableDomain string
	LocalPart         string
	Auth              core.AuthResults

	// Text is the normalized subject and body, tokens joined by spaces
	Text   string
	Tokens []string

	// Keywords are sorted best first
	Keywords            []PhraseMatch
	Transactional       *PhraseMatch
	SubscriptionWarning *PhraseMatch
	Brands              []string

	DomainEntropy      float64
	GibberishDomain    bool
	DomainMismatch     bool
	BrandImpersonation bool
	RecognizedDomain   bool

	URLCount     int
	Exclamations int
	CapsRatio    float64
	BodyLength   int

	signals []Signal
}

// Signals returns the extracted signals in a stable order
func (s *SignalSet) Signals() []Signal {
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Lookup returns the first signal with the given name
func (s *SignalSet) Lookup(name string) (Signal, bool) {
	for _, sig := range s.signals {
		if sig.Name == name {
			return sig, true
		}
	}
	return Signal{}, false
}

// Flag reports whether a flag signal is set
func (s *SignalSet) Flag(name string) bool {
	sig, ok := s.Lookup(name)
	return ok && sig.Kind == Flag
}

// BestKeyword returns the most specific keyword match
func (s *SignalSet) BestKeyword() (PhraseMatch, bool) {
	if len(s.Keywords) == 0 {
		return PhraseMatch{}, false
	}
	return s.Keywords[0], true
}

// BestKeywordFor returns the most specific keyword match of a category
func (s *SignalSet) BestKeywordFor(c core.Category) (PhraseMatch, bool) {
	for _, m := range s.Keywords {
		if m.Category == c {
			return m, true
		}
	}
	return PhraseMatch{}, false
}

// Feature returns a numeric view of the set, for models that consume
// named features. Unknown names are 0.
func (s *SignalSet) Feature(name string) float64 {
	switch name {
	case "keyword_dangerous":
		return s.keywordConfidence(core.CategoryDangerous)
	case "keyword_fraud":
		return s.keywordConfidence(core.CategoryFraudScam)
	case "keyword_commercial":
		return s.keywordConfidence(core.CategoryCommercialBulk)
	case "keyword_legitimate":
		return s.keywordConfidence(core.CategoryLegitimate)
	case SigDomainEntropy:
		return s.DomainEntropy
	case SigGibberishDomain:
		return b2f(s.GibberishDomain)
	case SigDomainMismatch:
		return b2f(s.DomainMismatch)
	case SigBrandImpersonation:
		return b2f(s.BrandImpersonation)
	case SigTransactional:
		return b2f(s.Transactional != nil)
	case SigSubscriptionWarning:
		return b2f(s.SubscriptionWarning != nil)
	case SigRecognizedDomain:
		return b2f(s.RecognizedDomain)
	case "auth_fail_count":
		return float64(s.authCount(core.AuthFail))
	case "auth_pass_count":
		return float64(s.authCount(core.AuthPass))
	case SigURLCount:
		return float64(s.URLCount)
	case SigExclamations:
		return float64(s.Exclamations)
	case SigCapsRatio:
		return s.CapsRatio
	case SigBodyLength:
		return float64(s.BodyLength)
	}
	return 0
}

func (s *SignalSet) keywordConfidence(c core.Category) float64 {
	best := 0.0
	for _, m := range s.Keywords {
		if m.Category == c && m.Confidence > best {
			best = m.Confidence
		}
	}
	return best
}

func (s *SignalSet) authCount(v core.AuthVerdict) int {
	n := 0
	for _, m := range []string{"spf", "dkim", "dmarc"} {
		if s.Auth.Verdict(m) == v {
			n++
		}
	}
	return n
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (s *SignalSet) add(sig Signal) {
	s.signals = append(s.signals, sig)
}

func (s *SignalSet) addFlag(name, detail string) {
	s.add(Signal{Name: name, Kind: Flag, Value: 1, Detail: detail})
}

func (s *SignalSet) addNumeric(name string, v float64) {
	s.add(Signal{Name: name, Kind: Numeric, Value: v})
}

func authValue(v core.AuthVerdict) float64 {
	switch v {
	case core.AuthPass:
		return 1
	case core.AuthFail:
		return -1
	}
	return 0
}
