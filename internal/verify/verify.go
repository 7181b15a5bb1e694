// Package verify probes a running deployment from the client side: it sends
// real DNS queries at the resolver to confirm ad domains are blocked and
// normal domains still resolve.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/WillMorrison/tailhole/internal/metrics"
	"github.com/WillMorrison/tailhole/internal/pihole"
)

// Sentinel errors for verification probes.
var (
	// ErrNotBlocked is returned when a domain expected to be blocked resolved
	// to a real address.
	ErrNotBlocked = errors.New("domain not blocked")

	// ErrNotResolved is returned when a domain expected to resolve did not.
	ErrNotResolved = errors.New("domain did not resolve")

	// ErrUnreachable is returned when the resolver cannot be reached.
	ErrUnreachable = errors.New("resolver unreachable")
)

// Exchanger performs a DNS exchange. *dns.Client satisfies this; tests
// substitute a fake.
type Exchanger interface {
	Exchange(msg *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Verifier sends probe queries at a resolver.
type Verifier struct {
	resolver string // host:port
	mode     pihole.BlockingMode
	client   Exchanger
	logger   *slog.Logger
}

// Option is a functional option for configuring the Verifier.
type Option func(*Verifier)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithExchanger replaces the DNS client, for tests.
func WithExchanger(e Exchanger) Option {
	return func(v *Verifier) {
		if e != nil {
			v.client = e
		}
	}
}

// WithBlockingMode sets the expected answer shape for blocked domains.
func WithBlockingMode(mode pihole.BlockingMode) Option {
	return func(v *Verifier) {
		v.mode = mode
	}
}

// WithTimeout sets the per-query timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(v *Verifier) {
		if c, ok := v.client.(*dns.Client); ok && timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// NewVerifier creates a Verifier probing the given resolver address. If the
// address has no port, 53 is assumed.
func NewVerifier(resolver string, opts ...Option) *Verifier {
	if _, _, err := net.SplitHostPort(resolver); err != nil {
		resolver = net.JoinHostPort(resolver, "53")
	}

	v := &Verifier{
		resolver: resolver,
		mode:     pihole.BlockNull,
		client:   &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// CheckBlocked queries domain and verifies the resolver answered the way a
// blocking resolver does: 0.0.0.0 / :: in NULL mode, NXDOMAIN in NXDOMAIN
// mode.
func (v *Verifier) CheckBlocked(ctx context.Context, domain string) error {
	if v.mode == pihole.BlockNXDomain {
		resp, rtt, err := v.query(ctx, domain, dns.TypeA)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}

		v.logger.Debug("blocked-domain probe",
			slog.String("domain", domain),
			slog.String("rcode", dns.RcodeToString[resp.Rcode]),
			slog.Duration("rtt", rtt),
		)

		if resp.Rcode != dns.RcodeNameError {
			return fmt.Errorf("%w: %s answered %s, want NXDOMAIN",
				ErrNotBlocked, domain, dns.RcodeToString[resp.Rcode])
		}
		return nil
	}

	// NULL blocking nulls both address families; a real AAAA answer is as
	// much of a leak as a real A answer.
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, rtt, err := v.query(ctx, domain, qtype)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}

		v.logger.Debug("blocked-domain probe",
			slog.String("domain", domain),
			slog.String("qtype", dns.TypeToString[qtype]),
			slog.String("rcode", dns.RcodeToString[resp.Rcode]),
			slog.Duration("rtt", rtt),
		)

		if resp.Rcode != dns.RcodeSuccess {
			return fmt.Errorf("%w: %s answered %s",
				ErrNotBlocked, domain, dns.RcodeToString[resp.Rcode])
		}
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *dns.A:
				if !a.A.IsUnspecified() {
					return fmt.Errorf("%w: %s resolved to %s", ErrNotBlocked, domain, a.A)
				}
			case *dns.AAAA:
				if !a.AAAA.IsUnspecified() {
					return fmt.Errorf("%w: %s resolved to %s", ErrNotBlocked, domain, a.AAAA)
				}
			}
		}
	}
	return nil
}

// CheckResolves queries domain and verifies it resolved to at least one real
// address.
func (v *Verifier) CheckResolves(ctx context.Context, domain string) error {
	resp, rtt, err := v.query(ctx, domain, dns.TypeA)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	v.logger.Debug("allowed-domain probe",
		slog.String("domain", domain),
		slog.String("rcode", dns.RcodeToString[resp.Rcode]),
		slog.Int("answers", len(resp.Answer)),
		slog.Duration("rtt", rtt),
	)

	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("%w: %s answered %s",
			ErrNotResolved, domain, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok && !a.A.IsUnspecified() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s returned no usable addresses", ErrNotResolved, domain)
}

// query builds and sends a single question with context support.
func (v *Verifier) query(ctx context.Context, domain string, qtype uint16) (*dns.Msg, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	type result struct {
		resp *dns.Msg
		rtt  time.Duration
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		resp, rtt, err := v.client.Exchange(msg, v.resolver)
		ch <- result{resp, rtt, err}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.rtt, r.err
		}
		if r.resp == nil {
			return nil, r.rtt, errors.New("no response from resolver")
		}
		return r.resp, r.rtt, nil
	}
}

// Probe is a single named verification check.
type Probe struct {
	Name        string
	Domain      string
	WantBlocked bool
}

// ProbeResult records the outcome of one probe.
type ProbeResult struct {
	Probe Probe
	Err   error
}

// Report aggregates probe outcomes.
type Report struct {
	Results []ProbeResult
}

// Failed returns the number of failed probes.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// OK reports whether all probes passed.
func (r *Report) OK() bool {
	return r.Failed() == 0
}

// DefaultProbes is a baseline probe set: a well-known ad domain that should
// be on every blocklist, and a well-known domain that must keep resolving.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "ad-domain-blocked", Domain: "doubleclick.net", WantBlocked: true},
		{Name: "normal-domain-resolves", Domain: "wikipedia.org", WantBlocked: false},
	}
}

// Run executes all probes against the resolver and returns a report. Probe
// failures are recorded in the report and in metrics, not returned as an
// error; an error means the run itself could not proceed.
func (v *Verifier) Run(ctx context.Context, probes []Probe) (*Report, error) {
	report := &Report{Results: make([]ProbeResult, 0, len(probes))}

	for _, probe := range probes {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var err error
		if probe.WantBlocked {
			err = v.CheckBlocked(ctx, probe.Domain)
		} else {
			err = v.CheckResolves(ctx, probe.Domain)
		}

		if err != nil {
			metrics.DNSCheckFailures.WithLabelValues(probe.Name).Inc()
			v.logger.Warn("verification probe failed",
				slog.String("probe", probe.Name),
				slog.String("domain", probe.Domain),
				slog.String("error", err.Error()),
			)
		}

		report.Results = append(report.Results, ProbeResult{Probe: probe, Err: err})
	}

	return report, nil
}
