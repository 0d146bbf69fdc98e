package remote

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

type TLSMode struct {
	Enable            bool
	CertFile          string
	KeyFile           string
	CAFile            string
	ServerName        string
	RequireClientCert bool
	MinVersion        uint16
}

// Config tunes both ends of the protocol.
type Config struct {
	TLS          TLSMode
	MaxFrameSize int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IdleTimeout bounds how long the server waits for the next request.
	IdleTimeout  time.Duration
	ReadBufSize  int
	WriteBufSize int
	// MaxIdle is the number of idle connections a pool keeps.
	MaxIdle int
	// DialRetries and DialBackoff control reconnect attempts.
	DialRetries int
	DialBackoff time.Duration
	// ReadAhead is the queue capacity of read-ahead streams; 0 reads one
	// record per round trip.
	ReadAhead int
}

func Default() Config {
	return Config{
		MaxFrameSize: 64 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  10 * time.Minute,
		ReadBufSize:  64 << 10,
		WriteBufSize: 64 << 10,
		MaxIdle:      16,
		DialRetries:  5,
		DialBackoff:  100 * time.Millisecond,
		ReadAhead:    256,
	}
}

func loadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}

func (m TLSMode) minVersion() uint16 {
	if m.MinVersion == 0 {
		return tls.VersionTLS13
	}
	return m.MinVersion
}

// serverTLS returns nil when TLS is disabled.
func (m TLSMode) serverTLS() (*tls.Config, error) {
	if !m.Enable {
		return nil, nil
	}
	if m.CertFile == "" || m.KeyFile == "" {
		return nil, errors.New("tls: certificate and key are required")
	}
	cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	tc := &tls.Config{
		Certificates:     []tls.Certificate{cert},
		MinVersion:       m.minVersion(),
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
	}
	if m.RequireClientCert {
		cas, err := loadCertPool(m.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		tc.ClientAuth = tls.RequireAndVerifyClientCert
		tc.ClientCAs = cas
	}
	return tc, nil
}

// clientTLS returns nil when TLS is disabled.
func (m TLSMode) clientTLS() (*tls.Config, error) {
	if !m.Enable {
		return nil, nil
	}
	cas, err := loadCertPool(m.CAFile)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	tc := &tls.Config{MinVersion: m.minVersion(), RootCAs: cas, ServerName: m.ServerName}
	if m.CertFile != "" && m.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.CertFile, m.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
