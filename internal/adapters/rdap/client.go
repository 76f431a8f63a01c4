// Package rdap looks up domain registration data over RDAP.
package rdap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// DefaultBaseURL is the IANA bootstrap redirector
const DefaultBaseURL = "https://rdap.org"

// ErrNotFound is returned when the registry has no record of the domain
var ErrNotFound = errors.New("domain not found in registry")

// Config holds RDAP client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Breaker trips after this many consecutive failures. 0 uses 5.
	MaxFailures uint32
	// OpenFor is how long the breaker stays open. 0 uses 30s.
	OpenFor time.Duration
}

// Client implements core.RegistrationLookup
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewClient creates an RDAP client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenFor == 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rdap",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

type response struct {
	LDHName string `json:"ldhName"`
	Events  []struct {
		Action string    `json:"eventAction"`
		Date   time.Time `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string      `json:"roles"`
		VCardArray []interface{} `json:"vcardArray"`
	} `json:"entities"`
}

// Lookup fetches the registration of domain. Registry failures count
// against the circuit breaker; unknown domains do not.
func (c *Client) Lookup(ctx context.Context, domain string) (*core.Registration, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.fetch(ctx, domain)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Registration), nil
}

func (c *Client) fetch(ctx context.Context, domain string) (*core.Registration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/domain/"+domain, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build RDAP request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("RDAP request for %s failed: %w", domain, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", domain, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("RDAP request for %s returned %s", domain, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read RDAP response: %w", err)
	}
	reg, err := parse(domain, body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("RDAP lookup",
		zap.String("domain", domain),
		zap.Time("created_at", reg.CreatedAt),
		zap.String("registrar", reg.Registrar))
	return reg, nil
}

func parse(domain string, body []byte) (*core.Registration, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse RDAP response: %w", err)
	}

	reg := &core.Registration{Domain: strings.ToLower(domain)}
	for _, ev := range r.Events {
		if ev.Action == "registration" {
			reg.CreatedAt = ev.Date
			break
		}
	}
	for _, ent := range r.Entities {
		for _, role := range ent.Roles {
			if role == "registrar" {
				reg.Registrar = vcardName(ent.VCardArray)
			}
		}
	}
	return reg, nil
}

// vcardName pulls the "fn" property out of a jCard
func vcardName(card []interface{}) string {
	if len(card) < 2 {
		return ""
	}
	props, ok := card[1].([]interface{})
	if !ok {
		return ""
	}
	for _, p := range props {
		prop, ok := p.([]interface{})
		if !ok || len(prop) < 4 {
			continue
		}
		if name, _ := prop[0].(string); name == "fn" {
			v, _ := prop[3].(string)
			return v
		}
	}
	return ""
}

var _ core.RegistrationLookup = (*Client)(nil)
