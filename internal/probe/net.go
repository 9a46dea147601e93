package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/doridoridoriand/skymonitor/internal/config"
)

const (
	defaultServerTimeout      = 2 * time.Second
	defaultApplicationTimeout = 15 * time.Second
	maxDrainBytes             = 64 << 10
	maxRedirects              = 10
)

// NetProber checks servers with a TCP connect and applications with an HTTPS request.
type NetProber struct {
	serverTimeout time.Duration
	client        *http.Client
}

// NewNetProber builds a prober. Non-positive timeouts use the defaults.
func NewNetProber(serverTimeout, applicationTimeout time.Duration) (*NetProber, error) {
	if serverTimeout <= 0 {
		serverTimeout = defaultServerTimeout
	}
	if applicationTimeout <= 0 {
		applicationTimeout = defaultApplicationTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: applicationTimeout,
		}).DialContext,
		// Monitored endpoints commonly run self-signed certificates.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		TLSHandshakeTimeout:   applicationTimeout,
		ResponseHeaderTimeout: applicationTimeout,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       90 * time.Second,
	}
	// A custom TLS config disables the automatic HTTP/2 upgrade.
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}

	return &NetProber{
		serverTimeout: serverTimeout,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: followSameScheme,
		},
	}, nil
}

// followSameScheme follows redirects that stay on the original scheme. A
// redirect to another scheme is returned as the final response.
func followSameScheme(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != via[0].URL.Scheme {
		return http.ErrUseLastResponse
	}
	return nil
}

// Check probes dim of svc. The application check only runs when the server is reachable.
func (p *NetProber) Check(ctx context.Context, svc config.Service, dim config.Dimension) Result {
	start := time.Now()
	if err := p.dial(ctx, svc); err != nil {
		return Result{Latency: time.Since(start), Err: err}
	}
	if dim == config.DimensionServer {
		return Result{Reachable: true, Latency: time.Since(start)}
	}

	status, err := p.request(ctx, svc)
	result := Result{Reachable: true, Latency: time.Since(start), Err: err}
	if err == nil {
		result.Healthy = status >= 200 && status < 300
		if !result.Healthy {
			result.Err = fmt.Errorf("unexpected status %d", status)
		}
	}
	return result
}

func (p *NetProber) dial(ctx context.Context, svc config.Service) error {
	dialer := net.Dialer{Timeout: p.serverTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(svc.Host, strconv.Itoa(svc.Port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *NetProber) request(ctx context.Context, svc config.Service) (int, error) {
	method := svc.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, ApplicationURL(svc), nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

// ApplicationURL builds the HTTPS health URL of svc. Port 443 is left implicit.
func ApplicationURL(svc config.Service) string {
	host := svc.Host
	switch {
	case svc.Port != 443 && svc.Port > 0:
		host = net.JoinHostPort(svc.Host, strconv.Itoa(svc.Port))
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	return "https://" + host + svc.ResourceURI
}
