package wsclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// SecurityPolicy TLS安全策略
type SecurityPolicy string

const (
	// PolicyCompatible TLS 1.2 起步，兼容大多数服务端
	PolicyCompatible SecurityPolicy = "compatible"
	// PolicyModern 仅允许 TLS 1.3
	PolicyModern SecurityPolicy = "modern"
)

// TLSOptions TLS配置选项
type TLSOptions struct {
	Policy             SecurityPolicy
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// NewTLSConfig 根据安全策略构造 tls.Config，握手本身由 crypto/tls 完成
func NewTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	switch SecurityPolicy(strings.ToLower(string(opts.Policy))) {
	case PolicyModern:
		cfg.MinVersion = tls.VersionTLS13
	case PolicyCompatible, "":
		cfg.MinVersion = tls.VersionTLS12
	default:
		return nil, fmt.Errorf("%w: unknown tls policy %q", ErrConnectionSetup, opts.Policy)
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca file: %v", ErrConnectionSetup, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrConnectionSetup, opts.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
