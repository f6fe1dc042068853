// Package status probes a deployed service's public endpoint and reports
// which health paths answer. Probes are observational: a failed probe never
// changes cluster state.
package status

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultProbeTimeout = 10 * time.Second
	probesPerSecond     = 5
)

// HealthReport is the outcome of probing one service.
type HealthReport struct {
	ServiceName string
	// Address is the resolved public address, empty when no task has one yet.
	Address string
	// Paths maps each probed path to whether it answered with a
	// non-error status.
	Paths map[string]bool
}

// Healthy reports whether every probed path answered.
func (r HealthReport) Healthy() bool {
	if r.Address == "" || len(r.Paths) == 0 {
		return false
	}
	for _, ok := range r.Paths {
		if !ok {
			return false
		}
	}
	return true
}

// Reporter resolves a service's public address and probes its health paths.
type Reporter struct {
	client  controlplane.Client
	http    *retryablehttp.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithProbeTimeout caps one HTTP probe.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(r *Reporter) {
		if timeout > 0 {
			r.http.HTTPClient.Timeout = timeout
		}
	}
}

// New constructs a Reporter. The probe client does not retry; a health probe
// reports the state it saw, it does not wait for a better one.
func New(client controlplane.Client, logger zerolog.Logger, opts ...Option) *Reporter {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 0
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = defaultProbeTimeout

	r := &Reporter{
		client:  client,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(probesPerSecond), probesPerSecond),
		logger:  logger.With().Str("component", "status").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report resolves the public address of serviceName and probes each path on
// the given port. A service with no public address yet yields a report with
// an empty Address and no probes.
func (r *Reporter) Report(ctx context.Context, cluster, serviceName string, port int, paths []string) (HealthReport, error) {
	report := HealthReport{ServiceName: serviceName}

	address, err := r.client.ResolveTaskPublicAddress(ctx, cluster, serviceName)
	if err != nil {
		return report, fmt.Errorf("resolve address for %s: %w", serviceName, err)
	}
	if address == "" {
		r.logger.Info().Str("service", serviceName).Msg("no public address yet")
		return report, nil
	}
	report.Address = address
	report.Paths = make(map[string]bool, len(paths))

	for _, path := range paths {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, err
		}
		ok := r.probe(ctx, address, port, path)
		report.Paths[path] = ok
		r.logger.Info().
			Str("service", serviceName).
			Str("path", path).
			Bool("ok", ok).
			Msg("probed health path")
	}

	return report, nil
}

func (r *Reporter) probe(ctx context.Context, address string, port int, path string) bool {
	url := fmt.Sprintf("http://%s:%d%s", address, port, path)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logger.Warn().Err(err).Str("url", url).Msg("building probe request")
		return false
	}

	resp, err := r.http.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", url).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest
}
