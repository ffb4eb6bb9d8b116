package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"
)

// TLSConfig points at the client certificate the gateway requires for mutual
// TLS. CAFile is optional.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// NewHTTPClient builds the http.Client shared by the credential cache and the
// gateway client. Without a certificate it returns a plain client, which is
// only useful against test doubles.
func NewHTTPClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	hc := &http.Client{Timeout: timeout}
	if cfg.CertFile == "" {
		return hc, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s has no certificates", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	hc.Transport = transport
	return hc, nil
}
