package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultProbeURL 公网 IP 回显地址。
const DefaultProbeURL = "https://api.ipify.org?format=json"

// ProbeResult 连通性探测结果。
type ProbeResult struct {
	IP      string
	Latency time.Duration
}

// Prober 通过指定出口探测连通性。proxy 为 nil 表示直连。
type Prober interface {
	Probe(ctx context.Context, proxy *url.URL) (ProbeResult, error)
}

// ProberFunc 函数适配器。
type ProberFunc func(ctx context.Context, proxy *url.URL) (ProbeResult, error)

func (f ProberFunc) Probe(ctx context.Context, proxy *url.URL) (ProbeResult, error) {
	return f(ctx, proxy)
}

// HTTPProber 请求 IP 回显接口完成探测。
type HTTPProber struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPProber 创建探测器。
func NewHTTPProber(probeURL string, timeout time.Duration) *HTTPProber {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProber{URL: probeURL, Timeout: timeout}
}

// Probe 经由 proxy 请求回显接口，返回出口 IP 与耗时。
func (p *HTTPProber) Probe(ctx context.Context, proxy *url.URL) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: p.Timeout,
		DisableKeepAlives:   true,
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return ProbeResult{}, fmt.Errorf("probe status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return ProbeResult{}, fmt.Errorf("decode probe response: %w", err)
	}
	if body.IP == "" {
		return ProbeResult{}, fmt.Errorf("probe response missing ip")
	}
	return ProbeResult{IP: body.IP, Latency: time.Since(start)}, nil
}
