package signals

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// Entry is a phrase that hints at a category. Rarity in [0,1] says how
// seldom the phrase shows up in unrelated mail.
type Entry struct {
	Phrase      string        `json:"phrase"`
	Category    core.Category `json:"category"`
	Subcategory string        `json:"subcategory"`
	Rarity      float64       `json:"rarity"`
}

// Lexicon is the phrase data the extractors match against
type Lexicon struct {
	Keywords             []Entry             `json:"keywords"`
	Transactional        []Entry             `json:"transactional"`
	SubscriptionWarnings []Entry             `json:"subscription_warnings"`
	Brands               map[string][]string `json:"brands"`
}

// LoadLexicon reads a lexicon from a JSON file
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	var lex Lexicon
	if err := json.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon %s: %w", path, err)
	}
	return &lex, nil
}

func kw(c core.Category, sub string, rarity float64, phrases ...string) []Entry {
	out := make([]Entry, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, Entry{Phrase: p, Category: c, Subcategory: sub, Rarity: rarity})
	}
	return out
}

func concat(groups ...[]Entry) []Entry {
	var out []Entry
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultLexicon returns the built-in phrase tables
func DefaultLexicon() *Lexicon {
	danger, fraud, bulk, legit := core.CategoryDangerous, core.CategoryFraudScam, core.CategoryCommercialBulk, core.CategoryLegitimate

	return &Lexicon{
		Keywords: concat(
			kw(danger, taxonomy.TagPhishing, 0.9,
				"verify your account information",
				"confirm your password",
				"your account has been suspended",
				"your account will be locked",
				"update your payment details immediately",
				"click here to verify your identity",
			),
			kw(danger, taxonomy.TagPhishing, 0.8,
				"verify your account",
				"unusual sign-in activity",
				"login to restore access",
				"click here to verify",
			),
			kw(danger, taxonomy.TagMalware, 0.8,
				"open the attached invoice",
				"enable editing to view",
			),
			kw(danger, taxonomy.TagMalware, 0.9, "enable macros"),
			kw(danger, taxonomy.TagAdult, 0.95, "hot singles in your area"),
			kw(danger, taxonomy.TagAdult, 0.8, "adult dating", "explicit videos", "meet horny"),
			kw(danger, taxonomy.TagAdult, 0.7, "xxx"),

			kw(fraud, taxonomy.TagAdvanceFee, 0.95, "kindly send your bank details"),
			kw(fraud, taxonomy.TagAdvanceFee, 0.9, "beneficiary of the fund"),
			kw(fraud, taxonomy.TagAdvanceFee, 0.8, "inheritance funds", "next of kin"),
			kw(fraud, taxonomy.TagAdvanceFee, 0.6, "wire transfer", "transfer fee"),
			kw(fraud, taxonomy.TagPrize, 0.8, "claim your prize", "lottery winner", "congratulations you have been selected"),
			kw(fraud, taxonomy.TagPrize, 0.7, "you have won"),
			kw(fraud, taxonomy.TagInvestment, 0.9, "double your bitcoin"),
			kw(fraud, taxonomy.TagInvestment, 0.8, "guaranteed returns", "crypto investment opportunity", "risk-free investment"),
			kw(fraud, taxonomy.TagPrize, 0.5, "gift card"),

			kw(bulk, taxonomy.TagPromotion, 0.5, "limited time offer", "exclusive deal", "flash sale", "clearance sale", "discount code"),
			kw(bulk, taxonomy.TagPromotion, 0.4, "free shipping", "shop now", "special offer", "buy now", "save up to"),
			kw(bulk, taxonomy.TagNewsletter, 0.6, "you are receiving this email because"),
			kw(bulk, taxonomy.TagNewsletter, 0.5, "weekly newsletter", "manage your preferences"),
			kw(bulk, taxonomy.TagNewsletter, 0.4, "view in browser"),
			kw(bulk, taxonomy.TagNewsletter, 0.3, "unsubscribe"),
			kw(bulk, taxonomy.TagMarketing, 0.4, "act now", "don't miss out", "sign up today"),

			kw(legit, taxonomy.TagPersonal, 0.5, "let me know what you think"),
			kw(legit, taxonomy.TagPersonal, 0.4, "thanks for your help", "see you tomorrow"),
			kw(legit, taxonomy.TagPersonal, 0.3, "how are you"),
			kw(legit, taxonomy.TagWork, 0.5, "meeting agenda", "please review the attached", "minutes from the meeting", "per our conversation"),
			kw(legit, taxonomy.TagWork, 0.4, "project update"),
		),
		Transactional: concat(
			kw(legit, taxonomy.TagTransactional, 0.7, "order confirmation", "booking confirmation", "reservation confirmed"),
			kw(legit, taxonomy.TagTransactional, 0.6, "receipt for your", "payment received", "has shipped", "tracking number", "delivery scheduled"),
			kw(legit, taxonomy.TagTransactional, 0.5, "order number", "invoice number"),
			kw(legit, taxonomy.TagTransactional, 0.4, "your order", "your purchase"),
			kw(legit, taxonomy.TagAppointment, 0.8, "appointment confirmed", "reschedule your appointment"),
			kw(legit, taxonomy.TagAppointment, 0.7, "your appointment", "appointment reminder"),
			kw(legit, taxonomy.TagAppointment, 0.6, "calendar invitation"),
			kw(legit, taxonomy.TagAppointment, 0.5, "meeting invitation"),
		),
		SubscriptionWarnings: concat(
			kw(fraud, taxonomy.TagSubscriptionScam, 0.7, "payment declined", "subscription expired", "subscription has expired", "card was declined"),
			kw(fraud, taxonomy.TagSubscriptionScam, 0.6, "payment failed", "update your payment method", "service will be interrupted"),
			kw(fraud, taxonomy.TagSubscriptionScam, 0.5, "renew your subscription"),
		),
		Brands: map[string][]string{
			"paypal":          {"paypal.com"},
			"amazon":          {"amazon.com", "amazon.co.uk", "amazon.de", "amazonses.com"},
			"apple":           {"apple.com", "icloud.com"},
			"microsoft":       {"microsoft.com", "outlook.com", "office.com", "live.com"},
			"netflix":         {"netflix.com"},
			"google":          {"google.com", "gmail.com"},
			"bank of america": {"bankofamerica.com", "bofa.com"},
			"wells fargo":     {"wellsfargo.com"},
			"dhl":             {"dhl.com"},
			"fedex":           {"fedex.com"},
			"facebook":        {"facebook.com", "facebookmail.com"},
			"instagram":       {"instagram.com"},
			"docusign":        {"docusign.com", "docusign.net"},
			"irs":             {"irs.gov"},
		},
	}
}
