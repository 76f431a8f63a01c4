package signals

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/whitelist"
)

// Options tune the extractors
type Options struct {
	// EntropyThreshold is the bits-per-character level above which a
	// digit-heavy domain label is considered random
	EntropyThreshold float64
	// MaxTextBytes caps how much of the body is scanned
	MaxTextBytes int
	// Recognized lists sender domains the operator knows. May be nil.
	Recognized *whitelist.Checker
}

// DefaultOptions returns the standard extractor tuning
func DefaultOptions() Options {
	return Options{
		EntropyThreshold: 3.2,
		MaxTextBytes:     64 << 10,
	}
}

type brand struct {
	name    string
	text    string
	domains map[string]struct{}
}

// Extractor computes a SignalSet for a message. It is safe for concurrent use.
type Extractor struct {
	keywords      matcher
	transactional matcher
	warnings      matcher
	brands        []brand
	opts          Options
}

// NewExtractor compiles a lexicon. A nil lexicon uses DefaultLexicon.
func NewExtractor(lex *Lexicon, opts Options) *Extractor {
	if lex == nil {
		lex = DefaultLexicon()
	}
	e := &Extractor{
		keywords:      compile(lex.Keywords),
		transactional: compile(lex.Transactional),
		warnings:      compile(lex.SubscriptionWarnings),
		opts:          opts,
	}
	for name, domains := range lex.Brands {
		b := brand{name: strings.ToLower(name), text: joinTokens(name), domains: make(map[string]struct{})}
		for _, d := range domains {
			b.domains[RegistrableDomain(d)] = struct{}{}
		}
		if b.text != "" {
			e.brands = append(e.brands, b)
		}
	}
	sort.Slice(e.brands, func(i, j int) bool { return e.brands[i].name < e.brands[j].name })
	return e
}

// Extract computes the signals of msg. A nil message yields an empty set.
func (e *Extractor) Extract(msg *core.Message) *SignalSet {
	set := &SignalSet{}
	if msg == nil {
		return set
	}

	body := msg.Body
	if e.opts.MaxTextBytes > 0 && len(body) > e.opts.MaxTextBytes {
		body = body[:e.opts.MaxTextBytes]
	}
	subject := joinTokens(msg.Subject)

	set.MessageID = msg.ID
	set.Domain = msg.SenderDomain()
	set.LocalPart = msg.LocalPart()
	set.Auth = msg.Auth
	set.Text = strings.TrimSpace(subject + " " + joinTokens(body))
	set.Tokens = strings.Fields(set.Text)

	e.extractDomain(set, msg)
	e.extractAuth(set)
	e.extractKeywords(set)
	e.extractTransactional(set)
	e.extractBrands(set, joinTokens(msg.DisplayName), subject)
	e.extractSubscriptionWarning(set)
	e.extractSurface(set, msg.Subject, body, len(msg.Body))

	return set
}

func (e *Extractor) extractDomain(set *SignalSet, msg *core.Message) {
	if set.Domain == "" {
		return
	}
	profile := AnalyzeDomain(set.Domain, e.opts.EntropyThreshold)
	set.RegistrableDomain = profile.Registrable
	set.DomainEntropy = profile.Entropy
	set.GibberishDomain = profile.Gibberish
	set.addNumeric(SigDomainEntropy, profile.Entropy)
	if profile.Gibberish {
		set.addFlag(SigGibberishDomain, profile.Reason)
	}

	display := msg.DisplayDomain
	if display == "" {
		display = set.Domain
	}
	env, disp := RegistrableDomain(msg.EnvelopeDomain), RegistrableDomain(display)
	if env != "" && disp != "" && env != disp {
		set.DomainMismatch = true
		set.addFlag(SigDomainMismatch, env+"/"+disp)
	}

	set.RecognizedDomain = e.opts.Recognized.IsRecognized(set.Domain) || e.isBrandDomain(profile.Registrable)
	if set.RecognizedDomain {
		set.addFlag(SigRecognizedDomain, "")
	}
}

func (e *Extractor) isBrandDomain(reg string) bool {
	for _, b := range e.brands {
		if _, ok := b.domains[reg]; ok {
			return true
		}
	}
	return false
}

func (e *Extractor) extractAuth(set *SignalSet) {
	set.addNumeric(SigAuthSPF, authValue(set.Auth.Verdict("spf")))
	set.addNumeric(SigAuthDKIM, authValue(set.Auth.Verdict("dkim")))
	set.addNumeric(SigAuthDMARC, authValue(set.Auth.Verdict("dmarc")))
	if set.Auth.AllPass() {
		set.addFlag(SigAuthAllPass, "")
	}
	if set.Auth.AnyFail() {
		set.addFlag(SigAuthAnyFail, "")
	}
}

func (e *Extractor) extractKeywords(set *SignalSet) {
	set.Keywords = e.keywords.match(set.Text)
	for _, m := range set.Keywords {
		set.add(Signal{Name: SigKeyword, Kind: Hint, Value: m.Confidence, Category: m.Category, Detail: m.Phrase})
	}
}

func (e *Extractor) extractTransactional(set *SignalSet) {
	matches := e.transactional.match(set.Text)
	if len(matches) == 0 {
		return
	}
	best := matches[0]
	set.Transactional = &best
	set.add(Signal{Name: SigTransactional, Kind: Flag, Value: 1, Category: best.Category, Detail: best.Phrase})
}

func (e *Extractor) extractBrands(set *SignalSet, displayName, subject string) {
	padded := " " + set.Text + " " + displayName + " "
	prominent := " " + displayName + " " + subject + " "
	for _, b := range e.brands {
		needle := " " + b.text + " "
		if !strings.Contains(padded, needle) {
			continue
		}
		set.Brands = append(set.Brands, b.name)
		set.add(Signal{Name: SigBrandMention, Kind: Hint, Value: 1, Detail: b.name})

		if set.RegistrableDomain == "" || !strings.Contains(prominent, needle) {
			continue
		}
		if _, official := b.domains[set.RegistrableDomain]; !official && !set.BrandImpersonation {
			set.BrandImpersonation = true
			set.addFlag(SigBrandImpersonation, b.name)
		}
	}
}

func (e *Extractor) extractSubscriptionWarning(set *SignalSet) {
	if set.Domain == "" || set.RecognizedDomain {
		return
	}
	matches := e.warnings.match(set.Text)
	if len(matches) == 0 {
		return
	}
	best := matches[0]
	set.SubscriptionWarning = &best
	set.add(Signal{Name: SigSubscriptionWarning, Kind: Flag, Value: 1, Category: best.Category, Detail: best.Phrase})
}

func (e *Extractor) extractSurface(set *SignalSet, subject, body string, bodyLen int) {
	lower := strings.ToLower(body)
	set.URLCount = strings.Count(lower, "http://") + strings.Count(lower, "https://") +
		strings.Count(lower, "www.") - strings.Count(lower, "://www.")
	set.Exclamations = strings.Count(subject, "!") + strings.Count(body, "!")
	set.BodyLength = bodyLen

	letters, upper := 0, 0
	for _, r := range subject {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 0 {
		set.CapsRatio = float64(upper) / float64(letters)
	}

	set.addNumeric(SigURLCount, float64(set.URLCount))
	set.addNumeric(SigExclamations, float64(set.Exclamations))
	set.addNumeric(SigCapsRatio, set.CapsRatio)
	set.addNumeric(SigBodyLength, float64(set.BodyLength))
}
