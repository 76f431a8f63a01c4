package signals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/taxonomy"
	"github.com/mikey/mail-triage/internal/whitelist"
)

func pass() core.AuthResults {
	return core.AuthResults{SPF: core.AuthPass, DKIM: core.AuthPass, DMARC: core.AuthPass}
}

func TestAnalyzeDomain(t *testing.T) {
	tests := []struct {
		domain    string
		gibberish bool
		reason    string
	}{
		{"xk9q7z.us", true, ReasonNoVowels},
		{"bcdfghjk.com", true, ReasonNoVowels},
		{"mail.qwrtzxplkae.net", true, ReasonConsonantRun},
		{"a8f3k2j9d0.net", true, ReasonHighEntropy},
		{"knownretailer.com", false, ""},
		{"strengths.com", false, ""},
		{"amazon.co.uk", false, ""},
		{"mail.google.com", false, ""},
		{"x7.com", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			p := AnalyzeDomain(tt.domain, 3.2)
			assert.Equal(t, tt.gibberish, p.Gibberish)
			assert.Equal(t, tt.reason, p.Reason)
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "amazon.co.uk", RegistrableDomain("Mail.Amazon.co.uk."))
	assert.Equal(t, "google.com", RegistrableDomain("mail.google.com"))
	assert.Equal(t, "localhost", RegistrableDomain("localhost"))
	assert.Equal(t, "", RegistrableDomain(" "))
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy(""))
	assert.Zero(t, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 1e-9)
	assert.Equal(t, shannonEntropy("qwerty"), shannonEntropy("ytrewq"))
}

func TestSpecificity(t *testing.T) {
	assert.InDelta(t, 0.35, Specificity("unsubscribe", 0.7), 1e-9)
	assert.InDelta(t, 0.95, Specificity("verify your account information", 0.9), 1e-9)
	assert.InDelta(t, 1.0, Specificity("a b c d e f", 1.5), 1e-9)
	assert.Zero(t, Specificity("   ", 0.9))

	assert.InDelta(t, 0.5, PhraseConfidence(0), 1e-9)
	assert.InDelta(t, 1.0, PhraseConfidence(1), 1e-9)
}

func TestExtractNilAndEmpty(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())

	set := e.Extract(nil)
	require.NotNil(t, set)
	assert.Empty(t, set.Signals())

	set = e.Extract(&core.Message{ID: "m1"})
	assert.Equal(t, "m1", set.MessageID)
	assert.False(t, set.GibberishDomain)
	assert.Nil(t, set.Transactional)
	assert.Empty(t, set.Keywords)
	v, ok := set.Lookup(SigAuthSPF)
	require.True(t, ok)
	assert.Zero(t, v.Value)
}

func TestExtractKeywordsBestSpecificity(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())

	set := e.Extract(&core.Message{
		ID:      "m1",
		Sender:  "security@example-alerts.com",
		Subject: "Action required: Verify your account information",
		Body:    "Click here to verify. Unsubscribe at any time.",
	})

	best, ok := set.BestKeyword()
	require.True(t, ok)
	assert.Equal(t, "verify your account information", best.Phrase)
	assert.Equal(t, core.CategoryDangerous, best.Category)
	assert.Equal(t, taxonomy.TagPhishing, best.Subcategory)
	assert.InDelta(t, 0.975, best.Confidence, 1e-9)

	bulk, ok := set.BestKeywordFor(core.CategoryCommercialBulk)
	require.True(t, ok)
	assert.Equal(t, "unsubscribe", bulk.Phrase)

	for _, m := range set.Keywords {
		assert.GreaterOrEqual(t, m.Confidence, 0.5)
		assert.LessOrEqual(t, m.Confidence, 1.0)
	}
	assert.InDelta(t, 0.975, set.Feature("keyword_dangerous"), 1e-9)
}

func TestExtractPunctuationDoesNotBreakPhrases(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())
	set := e.Extract(&core.Message{Subject: "CONGRATULATIONS!!! You have been selected"})

	m, ok := set.BestKeywordFor(core.CategoryFraudScam)
	require.True(t, ok)
	assert.Equal(t, "congratulations you have been selected", m.Phrase)
	assert.Equal(t, 3, set.Exclamations)
	assert.Greater(t, set.CapsRatio, 0.4)
}

func TestExtractTransactional(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())
	set := e.Extract(&core.Message{
		Sender:  "receipts@knownretailer.com",
		Subject: "Your order confirmation",
		Auth:    pass(),
	})

	require.NotNil(t, set.Transactional)
	assert.Equal(t, "order confirmation", set.Transactional.Phrase)
	assert.Equal(t, taxonomy.TagTransactional, set.Transactional.Subcategory)
	assert.True(t, set.Flag(SigTransactional))
	assert.True(t, set.Flag(SigAuthAllPass))
	assert.False(t, set.Flag(SigAuthAnyFail))
	assert.Equal(t, "receipts", set.LocalPart)
	assert.Equal(t, "knownretailer.com", set.RegistrableDomain)
}

func TestExtractGibberishDomain(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())
	set := e.Extract(&core.Message{Sender: "promo@xk9q7z.us", Subject: "hello"})

	assert.True(t, set.GibberishDomain)
	sig, ok := set.Lookup(SigGibberishDomain)
	require.True(t, ok)
	assert.Equal(t, "gibberish_domain:no_vowels", sig.Key())
}

func TestExtractSubscriptionWarningNeedsUnrecognizedDomain(t *testing.T) {
	recognized := whitelist.NewChecker([]string{"streamco.com"}, zap.NewNop())
	opts := DefaultOptions()
	opts.Recognized = recognized
	e := NewExtractor(nil, opts)

	msg := &core.Message{Sender: "billing@str3amco-billing.info", Subject: "Payment declined"}
	set := e.Extract(msg)
	require.NotNil(t, set.SubscriptionWarning)
	assert.Equal(t, "payment declined", set.SubscriptionWarning.Phrase)

	msg.Sender = "billing@streamco.com"
	set = e.Extract(msg)
	assert.Nil(t, set.SubscriptionWarning)
	assert.True(t, set.RecognizedDomain)

	msg.Sender = "billing@netflix.com"
	set = e.Extract(msg)
	assert.Nil(t, set.SubscriptionWarning)
}

func TestExtractBrandImpersonation(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())

	set := e.Extract(&core.Message{
		Sender:      "service@paypa1-support.com",
		DisplayName: "PayPal Service",
		Subject:     "Problem with your account",
	})
	assert.Equal(t, []string{"paypal"}, set.Brands)
	assert.True(t, set.BrandImpersonation)

	set = e.Extract(&core.Message{
		Sender:      "service@mail.paypal.com",
		DisplayName: "PayPal",
		Subject:     "Receipt",
	})
	assert.False(t, set.BrandImpersonation)

	// Body-only mentions are not impersonation
	set = e.Extract(&core.Message{
		Sender: "friend@example.org",
		Body:   "I paid you back on paypal",
	})
	assert.Equal(t, []string{"paypal"}, set.Brands)
	assert.False(t, set.BrandImpersonation)
}

func TestExtractDomainMismatch(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())

	set := e.Extract(&core.Message{
		Sender:         "alerts@bank.com",
		EnvelopeDomain: "bulk.mailer-x.net",
		DisplayDomain:  "bank.com",
	})
	assert.True(t, set.DomainMismatch)

	set = e.Extract(&core.Message{
		Sender:         "alerts@bank.com",
		EnvelopeDomain: "bounce.bank.com",
		DisplayDomain:  "bank.com",
	})
	assert.False(t, set.DomainMismatch)
}

func TestExtractSurface(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())
	set := e.Extract(&core.Message{
		Sender: "a@example.com",
		Body:   "see https://www.example.com and http://x.io or www.y.org!",
	})
	assert.Equal(t, 3, set.URLCount)
	assert.Equal(t, 1, set.Exclamations)
}

func TestExtractIsDeterministic(t *testing.T) {
	e := NewExtractor(nil, DefaultOptions())
	msg := &core.Message{
		ID:      "m1",
		Sender:  "deals@shop.example.com",
		Subject: "Flash sale: free shipping, shop now",
		Body:    "Limited time offer. Unsubscribe here. PayPal accepted.",
		Auth:    pass(),
	}
	assert.Equal(t, e.Extract(msg), e.Extract(msg))
}
