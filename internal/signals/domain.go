package signals

import (
	"math"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DomainProfile describes how random a domain's registrable label looks
type DomainProfile struct {
	Registrable string
	Label       string
	Entropy     float64
	Gibberish   bool
	Reason      string
}

// Gibberish reasons
const (
	ReasonNoVowels      = "no_vowels"
	ReasonConsonantRun  = "consonant_run"
	ReasonHighEntropy   = "high_entropy"
	minGibberishLength  = 5
	maxConsonantRun     = 6
	minEntropyDigitRate = 0.25
)

// RegistrableDomain returns the eTLD+1 of a domain, or the domain itself
// when it has no public suffix (single labels, IP literals)
func RegistrableDomain(domain string) string {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return etld1
}

// AnalyzeDomain profiles the registrable label of domain. threshold is the
// Shannon entropy (bits per character) above which a digit-heavy label is
// treated as random.
func AnalyzeDomain(domain string, threshold float64) DomainProfile {
	reg := RegistrableDomain(domain)
	p := DomainProfile{Registrable: reg, Label: registrableLabel(reg)}
	if p.Label == "" {
		return p
	}
	p.Entropy = shannonEntropy(p.Label)

	if len(p.Label) < minGibberishLength {
		return p
	}

	letters, vowels, digits, run, longest := 0, 0, 0, 0, 0
	for _, r := range p.Label {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
			if strings.ContainsRune("aeiouy", r) {
				vowels++
				run = 0
			} else {
				run++
				longest = max(longest, run)
			}
		case r >= '0' && r <= '9':
			digits++
			run = 0
		default:
			run = 0
		}
	}

	digitRate := float64(digits) / float64(len(p.Label))
	switch {
	case letters > 0 && vowels == 0:
		p.Gibberish, p.Reason = true, ReasonNoVowels
	case longest >= maxConsonantRun:
		p.Gibberish, p.Reason = true, ReasonConsonantRun
	case threshold > 0 && p.Entropy >= threshold && digitRate >= minEntropyDigitRate:
		p.Gibberish, p.Reason = true, ReasonHighEntropy
	}
	return p
}

func registrableLabel(reg string) string {
	if reg == "" {
		return ""
	}
	suffix, _ := publicsuffix.PublicSuffix(reg)
	label := strings.TrimSuffix(reg, "."+suffix)
	if i := strings.LastIndexByte(label, '.'); i >= 0 {
		label = label[i+1:]
	}
	return label
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	runes := []rune(s)
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	// Sum in sorted order so the result is bit-for-bit stable.
	var h float64
	n := float64(len(runes))
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		p := float64(j-i) / n
		h -= p * math.Log2(p)
		i = j
	}
	return h
}
