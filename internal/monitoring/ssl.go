// internal/monitoring/ssl.go - TLS certificate inspection
package monitoring

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"time"
)

// SSLInfo describes the certificate presented by an HTTPS target.
type SSLInfo struct {
	Valid           bool      `json:"valid"`
	Issuer          string    `json:"issuer,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	ValidFrom       time.Time `json:"valid_from,omitempty"`
	ValidTo         time.Time `json:"valid_to,omitempty"`
	DaysUntilExpiry *int      `json:"days_until_expiry"`
	Error           string    `json:"error,omitempty"`
}

// SSLInspector performs a TLS handshake against an HTTPS target, independent
// of the check cycle. It is not gated by the monitor's active flag: expiry
// data is useful to see even while a monitor is paused.
type SSLInspector struct {
	Timeout time.Duration
	// Roots overrides the system trust store when set (used in tests).
	Roots *x509.CertPool
}

func NewSSLInspector(timeout time.Duration) *SSLInspector {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &SSLInspector{Timeout: timeout}
}

// InspectTLS connects to host (host or host:port, default port 443) and
// reports certificate validity. Failures populate Error with Valid=false
// rather than returning an error.
func (i *SSLInspector) InspectTLS(ctx context.Context, host string) *SSLInfo {
	info := &SSLInfo{}

	addr := host
	serverName := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		serverName = h
	} else {
		addr = net.JoinHostPort(host, "443")
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: i.Timeout},
		Config: &tls.Config{
			ServerName: serverName,
			RootCAs:    i.Roots,
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, i.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		info.Error = "no peer certificates presented"
		return info
	}

	cert := state.PeerCertificates[0]
	now := time.Now()

	info.Issuer = cert.Issuer.String()
	info.Subject = cert.Subject.String()
	info.ValidFrom = cert.NotBefore
	info.ValidTo = cert.NotAfter

	days := int(time.Until(cert.NotAfter).Hours() / 24)
	info.DaysUntilExpiry = &days

	// The handshake already verified the chain; only the validity window can
	// disagree with the local clock here.
	info.Valid = !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
	if !info.Valid {
		info.Error = "certificate is outside its validity window"
	}

	return info
}
