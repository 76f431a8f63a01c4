// Package taxonomy holds the fixed forest of categories used to label mail.
// Decisions are made on top-level categories; subcategories are tags used
// for reporting.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mikey/mail-triage/internal/core"
)

// Common subcategory tags
const (
	TagPhishing          = "phishing"
	TagMalware           = "malware"
	TagAdult             = "adult"
	TagGibberishDomain   = "gibberish domain"
	TagBrandImpersonated = "brand impersonation"
	TagSpoofing          = "spoofing indicated"
	TagAdvanceFee        = "advance-fee"
	TagPrize             = "prize"
	TagInvestment        = "investment"
	TagSubscriptionScam  = "subscription scam"
	TagPromotion         = "promotion"
	TagNewsletter        = "newsletter"
	TagMarketing         = "marketing"
	TagNotification      = "notification"
	TagTransactional     = "transactional"
	TagAppointment       = "appointment"
	TagPersonal          = "personal"
	TagWork              = "work"
	TagManualReview      = "manual review"
)

// CategoryNode is a node of the category forest
type CategoryNode struct {
	Name            string
	Parent          *CategoryNode
	ConfidenceFloor float64
	Severity        int
	Disposition     core.Disposition
	children        []*CategoryNode
}

// TopLevel returns the root ancestor of the node
func (n *CategoryNode) TopLevel() *CategoryNode {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// Children returns the subcategory tags directly under the node
func (n *CategoryNode) Children() []*CategoryNode {
	return n.children
}

// Taxonomy is a static category forest. It is built once and only read
// afterwards.
type Taxonomy struct {
	roots []*CategoryNode
	nodes map[string]*CategoryNode
}

// New creates an empty taxonomy
func New() *Taxonomy {
	return &Taxonomy{nodes: make(map[string]*CategoryNode)}
}

// Default returns the built-in forest
func Default() *Taxonomy {
	t := New()
	t.mustAddRoot(core.CategoryDangerous, 4, 0.60, core.DispositionDelete,
		TagPhishing, TagMalware, TagAdult, TagGibberishDomain, TagBrandImpersonated)
	t.mustAddRoot(core.CategoryFraudScam, 3, 0.55, core.DispositionDelete,
		TagSpoofing, TagAdvanceFee, TagPrize, TagInvestment, TagSubscriptionScam)
	t.mustAddRoot(core.CategoryCommercialBulk, 2, 0.50, core.DispositionDelete,
		TagPromotion, TagNewsletter, TagMarketing, TagNotification)
	t.mustAddRoot(core.CategoryLegitimate, 1, 0.50, core.DispositionPreserve,
		TagTransactional, TagAppointment, TagPersonal, TagWork)
	t.mustAddRoot(core.CategoryNeedsReview, 0, 0.0, core.DispositionPreserve,
		TagManualReview)
	return t
}

func (t *Taxonomy) mustAddRoot(c core.Category, severity int, floor float64, d core.Disposition, tags ...string) {
	if _, err := t.AddRoot(c, severity, floor, d); err != nil {
		panic(err)
	}
	for _, tag := range tags {
		if err := t.AddSubcategory(c, tag); err != nil {
			panic(err)
		}
	}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AddRoot registers a top-level category
func (t *Taxonomy) AddRoot(c core.Category, severity int, floor float64, d core.Disposition) (*CategoryNode, error) {
	k := key(string(c))
	if k == "" {
		return nil, fmt.Errorf("category name is empty")
	}
	if _, ok := t.nodes[k]; ok {
		return nil, fmt.Errorf("category %q already exists", c)
	}
	node := &CategoryNode{
		Name:            string(c),
		ConfidenceFloor: floor,
		Severity:        severity,
		Disposition:     d,
	}
	t.nodes[k] = node
	t.roots = append(t.roots, node)
	return node, nil
}

// AddSubcategory attaches a tag under a top-level category. Adding an
// existing tag to the same parent is a no-op.
func (t *Taxonomy) AddSubcategory(parent core.Category, tag string) error {
	p, ok := t.nodes[key(string(parent))]
	if !ok {
		return fmt.Errorf("unknown parent category %q", parent)
	}
	k := key(string(parent)) + "/" + key(tag)
	if _, ok := t.nodes[k]; ok {
		return nil
	}
	child := &CategoryNode{
		Name:            strings.TrimSpace(tag),
		Parent:          p,
		ConfidenceFloor: p.ConfidenceFloor,
		Severity:        p.Severity,
		Disposition:     p.Disposition,
	}
	p.children = append(p.children, child)
	t.nodes[k] = child
	return nil
}

// Node returns the top-level node for a category
func (t *Taxonomy) Node(c core.Category) (*CategoryNode, bool) {
	n, ok := t.nodes[key(string(c))]
	return n, ok
}

// HasSubcategory reports whether tag is registered under c
func (t *Taxonomy) HasSubcategory(c core.Category, tag string) bool {
	_, ok := t.nodes[key(string(c))+"/"+key(tag)]
	return ok
}

// Roots returns the top-level categories in registration order
func (t *Taxonomy) Roots() []*CategoryNode {
	return t.roots
}

// Severity returns the rank of c; higher is more harmful. Unknown
// categories rank below everything.
func (t *Taxonomy) Severity(c core.Category) int {
	if n, ok := t.Node(c); ok {
		return n.Severity
	}
	return -1
}

// Floor returns the default confidence floor of c
func (t *Taxonomy) Floor(c core.Category) float64 {
	if n, ok := t.Node(c); ok {
		return n.ConfidenceFloor
	}
	return 0
}

// Disposition returns the default action for c. Unknown categories are
// preserved.
func (t *Taxonomy) Disposition(c core.Category) core.Disposition {
	if n, ok := t.Node(c); ok {
		return n.Disposition
	}
	return core.DispositionPreserve
}

// BySeverity returns the top-level categories ordered from most to least
// harmful
func (t *Taxonomy) BySeverity() []core.Category {
	out := make([]core.Category, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, core.Category(r.Name))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return t.Severity(out[i]) > t.Severity(out[j])
	})
	return out
}

// Harmful reports whether mail in c is deleted by default
func (t *Taxonomy) Harmful(c core.Category) bool {
	return t.Disposition(c) == core.DispositionDelete
}
