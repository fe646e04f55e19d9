package psm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidOracle indicates neither the primary nor the backup price source
// produced a usable quote. The call fails; retry policy belongs to the
// caller.
var ErrInvalidOracle = errors.New("psm: oracle price invalid")

// PriceQuote captures an exchange rate along with the timestamp reported by
// the upstream oracle and the oracle identifier.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// PriceOracle resolves the reserve-per-issued-token exchange rate. Any
// adapter satisfying this interface is interchangeable.
type PriceOracle interface {
	GetPrice() (PriceQuote, error)
}

// OracleAdapter combines a primary and backup oracle with the decimal
// normalization and inversion configuration for the asset pair. Price is the
// single normalization point shared by mint and redeem so the two paths can
// never silently diverge.
type OracleAdapter struct {
	mu                 sync.RWMutex
	primary            PriceOracle
	backup             PriceOracle
	decimalsNormalizer int
	doInvert           bool
	maxAge             time.Duration
	clock              func() time.Time
}

// NewOracleAdapter constructs an adapter. The backup may be nil; maxAge of
// zero disables freshness checks.
func NewOracleAdapter(primary, backup PriceOracle, decimalsNormalizer int, doInvert bool, maxAge time.Duration) *OracleAdapter {
	return &OracleAdapter{
		primary:            primary,
		backup:             backup,
		decimalsNormalizer: decimalsNormalizer,
		doInvert:           doInvert,
		maxAge:             maxAge,
		clock:              time.Now,
	}
}

// SetClock overrides the time source, enabling deterministic unit tests.
func (a *OracleAdapter) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// SetOracles replaces the primary and backup price sources.
func (a *OracleAdapter) SetOracles(primary, backup PriceOracle) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.primary = primary
	a.backup = backup
	a.mu.Unlock()
}

func (a *OracleAdapter) usable(quote PriceQuote, err error, cutoff time.Time) bool {
	if err != nil {
		return false
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return false
	}
	if !cutoff.IsZero() && quote.Timestamp.Before(cutoff) {
		return false
	}
	return true
}

// Price returns the normalized reserve-per-issued-token rate: the raw oracle
// quote scaled by 10^decimalsNormalizer and inverted when configured. Both
// sources failing yields ErrInvalidOracle.
func (a *OracleAdapter) Price() (*big.Rat, error) {
	if a == nil {
		return nil, fmt.Errorf("psm: oracle adapter not configured")
	}
	a.mu.RLock()
	primary := a.primary
	backup := a.backup
	normalizer := a.decimalsNormalizer
	invert := a.doInvert
	maxAge := a.maxAge
	clock := a.clock
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = clock().Add(-maxAge)
	}

	var quote PriceQuote
	found := false
	for _, oracle := range []PriceOracle{primary, backup} {
		if oracle == nil {
			continue
		}
		candidate, err := oracle.GetPrice()
		if a.usable(candidate, err, cutoff) {
			quote = candidate
			found = true
			break
		}
	}
	if !found {
		return nil, ErrInvalidOracle
	}

	price := new(big.Rat).Set(quote.Rate)
	if normalizer != 0 {
		exp := normalizer
		if exp < 0 {
			exp = -exp
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
		if normalizer > 0 {
			price.Mul(price, new(big.Rat).SetInt(scale))
		} else {
			price.Quo(price, new(big.Rat).SetInt(scale))
		}
	}
	if invert {
		price.Inv(price)
	}
	return price, nil
}

// ManualOracle is an in-memory oracle used for tests and manual overrides
// during incident response.
type ManualOracle struct {
	mu    sync.RWMutex
	quote PriceQuote
	set   bool
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{}
}

// Set stores the provided rational rate with the supplied timestamp.
func (m *ManualOracle) Set(rateValue *big.Rat, ts time.Time) {
	if m == nil || rateValue == nil {
		return
	}
	m.mu.Lock()
	m.quote = PriceQuote{Rate: new(big.Rat).Set(rateValue), Timestamp: ts, Source: "manual"}
	m.set = true
	m.mu.Unlock()
}

// SetDecimal parses and stores a decimal rate string.
func (m *ManualOracle) SetDecimal(rateValue string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(rateValue)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: rate required")
	}
	parsed, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rateValue)
	}
	if parsed.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.Set(parsed, ts)
	return nil
}

// Invalidate clears the stored quote so subsequent reads fail.
func (m *ManualOracle) Invalidate() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.set = false
	m.mu.Unlock()
}

// GetPrice retrieves the stored quote.
func (m *ManualOracle) GetPrice() (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return PriceQuote{}, fmt.Errorf("manual oracle: no quote set")
	}
	return m.quote.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOracle fetches quotes from a JSON endpoint returning
// {"rate": "<decimal>", "timestamp": <unix>}. Outbound requests are
// throttled so a hot mint path cannot hammer the upstream feed; throttled
// calls serve the last fetched quote and leave staleness to the adapter's
// freshness window.
type HTTPOracle struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	limiter  *rate.Limiter

	mu     sync.Mutex
	cached PriceQuote
	seeded bool
}

// NewHTTPOracle constructs an HTTP oracle adapter. When the client is nil
// http.DefaultClient is used. The API key is optional and only added to the
// request headers when supplied.
func NewHTTPOracle(client HTTPDoer, endpoint, apiKey string, requestsPerSecond float64) *HTTPOracle {
	if client == nil {
		client = http.DefaultClient
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &HTTPOracle{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// GetPrice fetches and parses a quote from the configured endpoint.
func (o *HTTPOracle) GetPrice() (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, fmt.Errorf("http oracle not configured")
	}
	if o.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("http oracle: endpoint required")
	}
	if !o.limiter.Allow() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.seeded {
			return o.cached.Clone(), nil
		}
		return PriceQuote{}, fmt.Errorf("http oracle: request budget exhausted")
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	if o.apiKey != "" {
		req.Header.Set("x-api-key", o.apiKey)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("http oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("http oracle: decode: %w", err)
	}
	trimmed := strings.TrimSpace(payload.Rate)
	if trimmed == "" {
		return PriceQuote{}, fmt.Errorf("http oracle: empty rate")
	}
	parsed, ok := new(big.Rat).SetString(trimmed)
	if !ok || parsed.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("http oracle: invalid rate %q", payload.Rate)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	quote := PriceQuote{Rate: parsed, Timestamp: ts, Source: "http"}
	o.mu.Lock()
	o.cached = quote.Clone()
	o.seeded = true
	o.mu.Unlock()
	return quote, nil
}
