// Package reputation scores how far a sending domain can be trusted.
package reputation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/metrics"
	"github.com/mikey/mail-triage/internal/signals"
)

// Config tunes the validator
type Config struct {
	LookupTimeout time.Duration
	FreshTTL      time.Duration
	FallbackTTL   time.Duration
	NeutralScore  float64
	// AgeWeight and AuthWeight split the verdict between the cached domain
	// score and the message's authentication results
	AgeWeight         float64
	AuthWeight        float64
	LocalPartBonus    float64
	GenericLocalParts []string
}

// DefaultGenericLocalParts are mailbox names businesses send from
var DefaultGenericLocalParts = []string{
	"billing", "support", "no-reply", "noreply", "donotreply", "do-not-reply",
	"receipts", "orders", "info", "notifications", "notification", "accounts",
	"service", "customerservice", "help", "sales", "team", "hello", "news",
}

// DefaultConfig returns the standard tuning
func DefaultConfig() Config {
	return Config{
		LookupTimeout:     2 * time.Second,
		FreshTTL:          24 * time.Hour,
		FallbackTTL:       5 * time.Minute,
		NeutralScore:      0.5,
		AgeWeight:         0.7,
		AuthWeight:        0.3,
		LocalPartBonus:    0.05,
		GenericLocalParts: DefaultGenericLocalParts,
	}
}

// Request is what the pipeline knows about a sender
type Request struct {
	Domain    string
	LocalPart string
	Auth      core.AuthResults
}

// Verdict is the trust assessment of a sender
type Verdict struct {
	Domain           string
	TrustScore       float64
	DomainTrust      float64
	Reason           string
	Source           core.TrustSource
	LocalPartGeneric bool
}

// Option configures a Validator
type Option func(*Validator)

// WithStore writes every refreshed record through to store
func WithStore(store core.DomainStore) Option {
	return func(v *Validator) {
		v.store = store
	}
}

// WithMetrics counts lookups by source
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator answers trust queries from the shared cache, running at most one
// external lookup per domain at a time
type Validator struct {
	cache   core.DomainCache
	lookup  core.RegistrationLookup
	store   core.DomainStore
	cfg     Config
	generic map[string]struct{}
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by the callers waiting on one lookup. It is
// cancelled once the last of them gives up.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a validator
func New(cache core.DomainCache, lookup core.RegistrationLookup, cfg Config, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		cache:   cache,
		lookup:  lookup,
		cfg:     cfg,
		generic: make(map[string]struct{}, len(cfg.GenericLocalParts)),
		logger:  logger,
		now:     time.Now,
		flights: make(map[string]*flight),
	}
	for _, p := range cfg.GenericLocalParts {
		v.generic[strings.ToLower(p)] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Warm loads persisted records into the cache and returns how many it loaded
func (v *Validator) Warm(ctx context.Context) (int, error) {
	if v.store == nil {
		return 0, nil
	}
	records, err := v.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to warm domain cache: %w", err)
	}
	for _, rec := range records {
		v.cache.Set(rec)
	}
	v.logger.Info("Warmed domain cache", zap.Int("records", len(records)))
	return len(records), nil
}

// IsGenericLocalPart reports whether local is a generic business mailbox
// such as billing or no-reply. Plus-addressing is ignored.
func (v *Validator) IsGenericLocalPart(local string) bool {
	local = strings.ToLower(strings.TrimSpace(local))
	if i := strings.IndexByte(local, '+'); i >= 0 {
		local = local[:i]
	}
	_, ok := v.generic[local]
	return ok
}

// Validate scores the sender. It never fails: lookup problems yield the
// neutral score with source fallback.
func (v *Validator) Validate(ctx context.Context, req Request) Verdict {
	domain := signals.RegistrableDomain(req.Domain)
	verdict := Verdict{
		Domain:           domain,
		LocalPartGeneric: v.IsGenericLocalPart(req.LocalPart),
	}
	if domain == "" {
		verdict.TrustScore = v.cfg.NeutralScore
		verdict.DomainTrust = v.cfg.NeutralScore
		verdict.Reason = "no sender domain"
		verdict.Source = core.SourceFallback
		return verdict
	}

	rec, source := v.record(ctx, domain)
	verdict.Source = source
	verdict.DomainTrust = rec.TrustScore
	verdict.Reason = rec.Reason
	v.metrics.DomainLookup(string(source))

	if source == core.SourceFallback {
		verdict.TrustScore = v.cfg.NeutralScore
		return verdict
	}

	score := v.cfg.AgeWeight*rec.TrustScore + v.cfg.AuthWeight*AuthScore(req.Auth)
	if verdict.LocalPartGeneric {
		score += v.cfg.LocalPartBonus
		verdict.Reason += "; generic local part"
	}
	verdict.TrustScore = math.Max(0, math.Min(1, score))
	return verdict
}

// record returns the cached record for domain, refreshing it if needed
func (v *Validator) record(ctx context.Context, domain string) (*core.DomainRecord, core.TrustSource) {
	if rec, ok := v.cache.Get(domain); ok {
		if rec.Source == core.SourceFallback {
			return rec, core.SourceFallback
		}
		return rec, core.SourceCached
	}

	fl, ch := v.join(ctx, domain)
	defer v.leave(domain, fl)

	select {
	case res := <-ch:
		rec := res.Val.(*core.DomainRecord)
		return rec, rec.Source
	case <-ctx.Done():
		v.logger.Debug("Gave up waiting for domain lookup", zap.String("domain", domain), zap.Error(ctx.Err()))
		return v.fallback(domain, "lookup cancelled: "+ctx.Err().Error()), core.SourceFallback
	}
}

// join registers the caller as a waiter on the domain's flight, starting
// one if none is running
func (v *Validator) join(ctx context.Context, domain string) (*flight, <-chan singleflight.Result) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fl, ok := v.flights[domain]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: fctx, cancel: cancel}
		v.flights[domain] = fl
	}
	fl.waiters++

	ch := v.group.DoChan(domain, func() (interface{}, error) {
		return v.refresh(fl.ctx, domain), nil
	})
	return fl, ch
}

// leave drops the caller from the flight. The last waiter out cancels the
// lookup if it is still running, and later callers start a new one.
func (v *Validator) leave(domain string, fl *flight) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if v.flights[domain] == fl {
		delete(v.flights, domain)
		v.group.Forget(domain)
	}
}

// refresh performs the external lookup and caches the outcome. A lookup
// abandoned by every waiter is neither cached nor persisted.
func (v *Validator) refresh(ctx context.Context, domain string) *core.DomainRecord {
	if rec, ok := v.cache.Get(domain); ok {
		return rec
	}

	lctx, cancel := context.WithTimeout(ctx, v.cfg.LookupTimeout)
	defer cancel()

	var rec *core.DomainRecord
	reg, err := v.lookup.Lookup(lctx, domain)
	switch {
	case err != nil && ctx.Err() != nil:
		v.logger.Debug("Domain lookup abandoned", zap.String("domain", domain), zap.Error(err))
		return v.fallback(domain, "lookup cancelled: "+ctx.Err().Error())
	case err != nil:
		v.logger.Warn("Domain lookup failed, using neutral score",
			zap.String("domain", domain),
			zap.Error(err))
		rec = v.fallback(domain, "lookup failed: "+err.Error())
	default:
		rec = v.fresh(domain, reg)
	}

	v.cache.Set(rec)
	if v.store != nil {
		if err := v.store.Save(lctx, rec); err != nil {
			v.logger.Warn("Failed to persist domain record", zap.String("domain", domain), zap.Error(err))
		}
	}
	return rec
}

func (v *Validator) fallback(domain, reason string) *core.DomainRecord {
	return &core.DomainRecord{
		Domain:      domain,
		TrustScore:  v.cfg.NeutralScore,
		Reason:      reason,
		LastChecked: v.now(),
		TTL:         v.cfg.FallbackTTL,
		Source:      core.SourceFallback,
	}
}

func (v *Validator) fresh(domain string, reg *core.Registration) *core.DomainRecord {
	now := v.now()
	rec := &core.DomainRecord{
		Domain:      domain,
		LastChecked: now,
		TTL:         v.cfg.FreshTTL,
		Source:      core.SourceFresh,
	}
	if reg == nil || reg.CreatedAt.IsZero() {
		rec.TrustScore = v.cfg.NeutralScore
		rec.Reason = "registration date unknown"
		return rec
	}

	days := now.Sub(reg.CreatedAt).Hours() / 24
	rec.RegisteredAt = reg.CreatedAt
	rec.TrustScore = AgeScore(days)
	rec.Reason = fmt.Sprintf("registered %d days ago", int(math.Max(0, days)))
	return rec
}

// AgeScore maps a domain age in days onto [0.1,1). Young domains score low
// and the score flattens out after about three months.
func AgeScore(days float64) float64 {
	if days < 0 {
		days = 0
	}
	return 1 - 0.9*math.Exp(-days/30)
}

// AuthScore maps SPF, DKIM and DMARC onto [0,1]: all fail is 0, all pass
// is 1, nothing known is 0.5
func AuthScore(auth core.AuthResults) float64 {
	sum := 0
	for _, m := range []string{"spf", "dkim", "dmarc"} {
		switch auth.Verdict(m) {
		case core.AuthPass:
			sum++
		case core.AuthFail:
			sum--
		}
	}
	return float64(sum+3) / 6
}
