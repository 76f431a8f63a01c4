// Package feedback proposes alternative categories after a human rejects a
// classification, never offering the same category twice for one message.
package feedback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/ensemble"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/signals"
	"github.com/mikey/mail-triage/internal/taxonomy"
)

// TierFeedback is the DecidingTier of results proposed by the engine
const TierFeedback = "feedback"

var (
	// ErrSessionExhausted is returned once every category has been offered
	ErrSessionExhausted = errors.New("feedback session exhausted")
	// ErrNoEvidence is returned when a session must be created without the
	// message's evidence
	ErrNoEvidence = errors.New("no evidence for message")
)

// Evidence is what the engine ranks alternatives from
type Evidence struct {
	Signals  *signals.SignalSet
	Ensemble *ensemble.Result
	Original *core.ClassificationResult
}

// Session tracks what a human rejected and what was offered for a message
type Session struct {
	ID        string
	MessageID string
	Rejected  []core.Category
	Offered   []core.Category
	Exhausted bool
	CreatedAt time.Time

	evidence *Evidence
}

func (s *Session) excluded(c core.Category) bool {
	for _, r := range s.Rejected {
		if r == c {
			return true
		}
	}
	for _, o := range s.Offered {
		if o == c {
			return true
		}
	}
	return false
}

func (s *Session) clone() Session {
	cp := *s
	cp.Rejected = append([]core.Category(nil), s.Rejected...)
	cp.Offered = append([]core.Category(nil), s.Offered...)
	return cp
}

// Config tunes the ranking
type Config struct {
	ConfidenceWeight  float64
	SpecificityWeight float64
	// EnsembleFloor is the lowest runner-up score taken from the ensemble
	EnsembleFloor        float64
	EnsembleSpecificity  float64
	EnsembleAlternatives int
	// TerminalOrder is offered when no candidate is left
	TerminalOrder      []core.Category
	TerminalConfidence float64
}

// DefaultConfig returns the standard ranking
func DefaultConfig() Config {
	return Config{
		ConfidenceWeight:     0.6,
		SpecificityWeight:    0.4,
		EnsembleFloor:        0.3,
		EnsembleSpecificity:  0.5,
		EnsembleAlternatives: 2,
		TerminalOrder:        []core.Category{core.CategoryCommercialBulk, core.CategoryLegitimate},
		TerminalConfidence:   0.3,
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithRecorder sends every rejection and acceptance to r
func WithRecorder(r core.EventRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithMetrics counts feedback events
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithGenericSender supplies the check for generic business mailboxes,
// which hint at bulk mail
func WithGenericSender(fn func(localPart string) bool) Option {
	return func(e *Engine) {
		e.genericSender = fn
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine owns the feedback sessions. Sessions of different messages are
// independent.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*Session

	tax           *taxonomy.Taxonomy
	cfg           Config
	logger        *zap.Logger
	recorder      core.EventRecorder
	metrics       *metrics.Metrics
	genericSender func(string) bool
	now           func() time.Time
}

// NewEngine creates an engine
func NewEngine(tax *taxonomy.Taxonomy, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		sessions: make(map[string]*Session),
		tax:      tax,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reject records that rejected is wrong for the message and returns the next
// alternative. ev is needed only when the message has no session yet; a
// session keeps the evidence it was created with.
func (e *Engine) Reject(ctx context.Context, messageID string, ev *Evidence, rejected core.Category) (*core.ClassificationResult, error) {
	e.mu.Lock()
	s, ok := e.sessions[messageID]
	if !ok {
		if ev == nil {
			e.mu.Unlock()
			return nil, ErrNoEvidence
		}
		s = &Session{ID: uuid.NewString(), MessageID: messageID, CreatedAt: e.now(), evidence: ev}
		if ev.Original != nil && ev.Original.Category != "" {
			s.Offered = append(s.Offered, ev.Original.Category)
		}
		e.sessions[messageID] = s
	}
	if s.Exhausted {
		e.mu.Unlock()
		return nil, ErrSessionExhausted
	}
	if ev != nil {
		s.evidence = ev
	}
	if !contains(s.Rejected, rejected) {
		s.Rejected = append(s.Rejected, rejected)
	}

	next := e.next(s)
	if next == nil {
		s.Exhausted = true
	} else {
		s.Offered = append(s.Offered, next.Category)
	}
	sessionID := s.ID
	e.mu.Unlock()

	e.record(ctx, &core.FeedbackEvent{
		SessionID:  sessionID,
		MessageID:  messageID,
		Action:     core.FeedbackRejected,
		Category:   rejected,
		Offered:    categoryOf(next),
		OccurredAt: e.now(),
	})

	if next == nil {
		return nil, ErrSessionExhausted
	}
	e.logger.Debug("Offering alternative",
		zap.String("message_id", messageID),
		zap.String("session_id", sessionID),
		zap.String("rejected", string(rejected)),
		zap.String("offered", string(next.Category)),
		zap.String("tier", next.DecidingTier))
	return next, nil
}

// next picks the best candidate not yet rejected or offered. It must be
// called with the lock held.
func (e *Engine) next(s *Session) *core.ClassificationResult {
	ev := s.evidence
	if ev != nil {
		for _, cand := range e.Candidates(ev) {
			if !s.excluded(cand.Category) {
				return e.result(s, ev, cand)
			}
		}
	}
	for _, c := range e.cfg.TerminalOrder {
		if !s.excluded(c) {
			return e.result(s, ev, Candidate{Category: c, Confidence: e.cfg.TerminalConfidence, Source: "terminal"})
		}
	}
	if !s.excluded(core.CategoryNeedsReview) {
		s.Exhausted = true
		return e.result(s, ev, Candidate{
			Category:    core.CategoryNeedsReview,
			Subcategory: taxonomy.TagManualReview,
			Source:      "terminal",
		})
	}
	return nil
}

func (e *Engine) result(s *Session, ev *Evidence, cand Candidate) *core.ClassificationResult {
	evidence := []string{"feedback:" + cand.Source}
	if cand.Detail != "" {
		evidence = append(evidence, cand.Detail)
	}
	for _, r := range s.Rejected {
		evidence = append(evidence, "rejected:"+string(r))
	}
	res := &core.ClassificationResult{
		MessageID:    s.MessageID,
		Category:     cand.Category,
		Subcategory:  cand.Subcategory,
		Confidence:   cand.Confidence,
		DecidingTier: TierFeedback,
		Evidence:     evidence,
		Disposition:  e.tax.Disposition(cand.Category),
	}
	if ev != nil && ev.Original != nil {
		res.Degraded = ev.Original.Degraded
	}
	return res
}

// Accept ends the session of a message. It reports whether one existed.
func (e *Engine) Accept(ctx context.Context, messageID string) bool {
	e.mu.Lock()
	s, ok := e.sessions[messageID]
	if ok {
		delete(e.sessions, messageID)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}

	var accepted core.Category
	if n := len(s.Offered); n > 0 {
		accepted = s.Offered[n-1]
	}
	e.record(ctx, &core.FeedbackEvent{
		SessionID:  s.ID,
		MessageID:  messageID,
		Action:     core.FeedbackAccepted,
		Category:   accepted,
		OccurredAt: e.now(),
	})
	return true
}

// Forget drops the session of a message without recording an outcome
func (e *Engine) Forget(messageID string) {
	e.mu.Lock()
	delete(e.sessions, messageID)
	e.mu.Unlock()
}

// Sessions returns how many sessions are open
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Session returns a snapshot of the session of a message
func (e *Engine) Session(messageID string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[messageID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

func (e *Engine) record(ctx context.Context, event *core.FeedbackEvent) {
	e.metrics.FeedbackEvent(string(event.Action))
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordFeedback(ctx, event); err != nil {
		e.logger.Warn("Failed to record feedback event",
			zap.String("message_id", event.MessageID),
			zap.Error(err))
	}
}

// Candidate is a possible alternative category
type Candidate struct {
	Category    core.Category
	Subcategory string
	Confidence  float64
	Specificity float64
	Source      string
	Detail      string
}

// Candidates ranks every alternative the evidence supports, best first, one
// per category
func (e *Engine) Candidates(ev *Evidence) []Candidate {
	best := make(map[core.Category]Candidate)
	add := func(c Candidate) {
		if c.Category == "" || c.Category == core.CategoryNeedsReview {
			return
		}
		if cur, ok := best[c.Category]; !ok || e.score(c) > e.score(cur) {
			best[c.Category] = c
		}
	}

	if set := ev.Signals; set != nil {
		seen := make(map[core.Category]bool)
		for _, m := range set.Keywords {
			if seen[m.Category] {
				continue
			}
			seen[m.Category] = true
			add(Candidate{Category: m.Category, Subcategory: m.Subcategory, Confidence: m.Confidence,
				Specificity: m.Specificity, Source: "keyword", Detail: signals.SigKeyword + ":" + m.Phrase})
		}
		for _, h := range e.domainHints(set) {
			add(h)
		}
	}
	if ev.Ensemble != nil {
		for _, alt := range ev.Ensemble.Alternatives(e.cfg.EnsembleAlternatives, e.cfg.EnsembleFloor) {
			add(Candidate{Category: alt.Category, Confidence: alt.Score, Specificity: e.cfg.EnsembleSpecificity,
				Source: "ensemble", Detail: "ensemble_rank:" + string(alt.Category)})
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := e.score(out[i]), e.score(out[j])
		if si != sj {
			return si > sj
		}
		if a, b := e.tax.Severity(out[i].Category), e.tax.Severity(out[j].Category); a != b {
			return a > b
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func (e *Engine) score(c Candidate) float64 {
	return e.cfg.ConfidenceWeight*c.Confidence + e.cfg.SpecificityWeight*c.Specificity
}

// domainHints turns sender-side signals into category hints
func (e *Engine) domainHints(set *signals.SignalSet) []Candidate {
	var hints []Candidate
	hint := func(c core.Category, tag string, conf, spec float64, detail string) {
		if !e.tax.HasSubcategory(c, tag) {
			tag = ""
		}
		hints = append(hints, Candidate{Category: c, Subcategory: tag, Confidence: conf, Specificity: spec,
			Source: "domain", Detail: detail})
	}

	if set.GibberishDomain {
		hint(core.CategoryDangerous, taxonomy.TagGibberishDomain, 0.8, 0.7, signals.SigGibberishDomain)
	}
	if set.BrandImpersonation {
		hint(core.CategoryFraudScam, taxonomy.TagBrandImpersonated, 0.7, 0.5, signals.SigBrandImpersonation)
	}
	if set.DomainMismatch {
		hint(core.CategoryFraudScam, taxonomy.TagSpoofing, 0.6, 0.5, signals.SigDomainMismatch)
	}
	if set.SubscriptionWarning != nil {
		hint(core.CategoryFraudScam, taxonomy.TagSubscriptionScam, 0.7, 0.6, signals.SigSubscriptionWarning)
	}
	if set.Transactional != nil {
		hint(core.CategoryLegitimate, set.Transactional.Subcategory, 0.7, 0.6, signals.SigTransactional)
	}
	if e.genericSender != nil && set.LocalPart != "" && e.genericSender(set.LocalPart) {
		hint(core.CategoryCommercialBulk, taxonomy.TagNotification, 0.5, 0.3, "generic_sender")
	}
	return hints
}

func contains(cs []core.Category, c core.Category) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

func categoryOf(r *core.ClassificationResult) core.Category {
	if r == nil {
		return ""
	}
	return r.Category
}
