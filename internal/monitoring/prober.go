// internal/monitoring/prober.go - Single HTTP check execution
package monitoring

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"vigil/internal/database"
)

const userAgent = "Vigil Uptime Monitor/1.0"

// maxBodyRead bounds how much of a response body is drained before close so
// keep-alive connections can be reused.
const maxBodyRead = 1 << 20

// Prober executes one HTTP check against one monitor configuration. The
// transport is shared; the client is rebuilt per probe because timeout and
// redirect policy are per-monitor settings.
type Prober struct {
	transport      http.RoundTripper
	defaultTimeout time.Duration
}

// NewProber builds a prober; defaultTimeout applies to monitors that do not
// set their own timeout.
func NewProber(defaultTimeout time.Duration) *Prober {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Prober{
		transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
		defaultTimeout: defaultTimeout,
	}
}

// Timeout resolves the effective probe timeout for a monitor.
func (p *Prober) Timeout(monitor *database.Monitor) time.Duration {
	if t := monitor.TimeoutDuration(); t > 0 {
		return t
	}
	return p.defaultTimeout
}

// Probe runs the check and never returns an error: failures are routine data,
// classified on the result.
func (p *Prober) Probe(ctx context.Context, monitor *database.Monitor) *database.CheckResult {
	start := time.Now()
	result := &database.CheckResult{
		ID:        uuid.New().String(),
		MonitorID: monitor.ID,
		Timestamp: start,
	}

	client := &http.Client{
		Transport: p.transport,
		Timeout:   p.Timeout(monitor),
	}
	if !monitor.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	method := monitor.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if monitor.RequestBody != "" {
		body = strings.NewReader(monitor.RequestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, monitor.URL, body)
	if err != nil {
		result.Failure = database.FailureOther
		result.Detail = err.Error()
		return result
	}

	for key, value := range monitor.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	result.Latency = time.Since(start)

	if err != nil {
		result.Failure = classifyProbeError(err)
		result.Detail = err.Error()
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyRead))

	result.HTTPStatus = resp.StatusCode

	expected := monitor.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	if resp.StatusCode == expected {
		// Any latency counts as success as long as the response arrived in time
		result.Success = true
		return result
	}

	result.Failure = database.FailureUnexpectedStatus
	result.Detail = "HTTP " + resp.Status
	return result
}

func classifyProbeError(err error) database.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return database.FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return database.FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return database.FailureDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return database.FailureConnRefused
	}

	var certVerifyErr *tls.CertificateVerificationError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalidErr x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certVerifyErr) ||
		errors.As(err, &unknownAuthErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalidErr) ||
		errors.As(err, &recordErr) {
		return database.FailureTLS
	}

	return database.FailureOther
}
