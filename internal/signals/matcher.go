package signals

import (
	"sort"
	"strings"

	"github.com/mikey/mail-triage/internal/utils"
)

type compiledEntry struct {
	Entry
	text        string
	specificity float64
	confidence  float64
}

type matcher struct {
	entries []compiledEntry
}

// Specificity scores how distinctive a phrase is: longer phrases and rarer
// phrases are more specific. The result is in [0,1].
func Specificity(phrase string, rarity float64) float64 {
	words := len(utils.Tokenize(utils.Normalize(phrase)))
	if words == 0 {
		return 0
	}
	lengthFactor := min(1, float64(words-1)/3)
	return clamp01(0.5*lengthFactor + 0.5*clamp01(rarity))
}

// PhraseConfidence maps specificity onto the [0.5,1] confidence band
func PhraseConfidence(specificity float64) float64 {
	return 0.5 + 0.5*clamp01(specificity)
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}

func joinTokens(s string) string {
	return strings.Join(utils.Tokenize(utils.Normalize(s)), " ")
}

func compile(entries []Entry) matcher {
	m := matcher{entries: make([]compiledEntry, 0, len(entries))}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		text := joinTokens(e.Phrase)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		spec := Specificity(e.Phrase, e.Rarity)
		m.entries = append(m.entries, compiledEntry{
			Entry:       e,
			text:        text,
			specificity: spec,
			confidence:  PhraseConfidence(spec),
		})
	}
	return m
}

// match returns every entry found in text on token boundaries, best first
func (m matcher) match(text string) []PhraseMatch {
	if text == "" {
		return nil
	}
	padded := " " + text + " "
	var out []PhraseMatch
	for _, e := range m.entries {
		if strings.Contains(padded, " "+e.text+" ") {
			out = append(out, PhraseMatch{
				Phrase:      e.text,
				Category:    e.Category,
				Subcategory: e.Subcategory,
				Confidence:  e.confidence,
				Specificity: e.specificity,
			})
		}
	}
	sortMatches(out)
	return out
}

func sortMatches(ms []PhraseMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Specificity != ms[j].Specificity {
			return ms[i].Specificity > ms[j].Specificity
		}
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		return ms[i].Phrase < ms[j].Phrase
	})
}
