package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker answers whether a sender domain is one the operator recognizes.
// A domain matches when it equals a listed domain or is a subdomain of one.
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new checker over the given domains
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	set := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		d := normalize(domain)
		if d != "" {
			set[d] = struct{}{}
		}
	}

	if len(set) > 0 && logger != nil {
		logger.Info("Initialized recognized domain list", zap.Int("domains", len(set)))
	}

	return &Checker{
		domains: set,
		logger:  logger,
	}
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}

// IsRecognized checks a bare domain against the list
func (c *Checker) IsRecognized(domain string) bool {
	if c == nil || len(c.domains) == 0 {
		return false
	}
	d := normalize(domain)
	for d != "" {
		if _, ok := c.domains[d]; ok {
			return true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return false
}
