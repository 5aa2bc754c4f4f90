// internal/monitoring/ssl_test.go
package monitoring

import (
	"context"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectTLSReportsCertificate(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())

	inspector := NewSSLInspector(2 * time.Second)
	inspector.Roots = roots

	parsed, err := url.Parse(ts.URL)
	require.NoError(t, err)

	info := inspector.InspectTLS(context.Background(), parsed.Host)

	assert.True(t, info.Valid)
	assert.Empty(t, info.Error)
	assert.NotEmpty(t, info.Issuer)
	require.NotNil(t, info.DaysUntilExpiry)
	assert.GreaterOrEqual(t, *info.DaysUntilExpiry, 0)
	assert.True(t, info.ValidTo.After(info.ValidFrom))
}

func TestInspectTLSUntrustedCertificate(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	// No Roots override: the self-signed test certificate fails verification
	inspector := NewSSLInspector(2 * time.Second)

	parsed, err := url.Parse(ts.URL)
	require.NoError(t, err)

	info := inspector.InspectTLS(context.Background(), parsed.Host)

	assert.False(t, info.Valid)
	assert.NotEmpty(t, info.Error)
}

func TestInspectTLSUnreachableHost(t *testing.T) {
	inspector := NewSSLInspector(500 * time.Millisecond)

	info := inspector.InspectTLS(context.Background(), "no-such-host.invalid:443")

	assert.False(t, info.Valid)
	assert.NotEmpty(t, info.Error)
	assert.Nil(t, info.DaysUntilExpiry)
}

func TestInspectTLSDefaultsToPort443(t *testing.T) {
	inspector := NewSSLInspector(200 * time.Millisecond)

	// The bare hostname path joins :443; resolution still fails fast here
	info := inspector.InspectTLS(context.Background(), "no-such-host.invalid")

	assert.False(t, info.Valid)
	assert.NotEmpty(t, info.Error)
}
