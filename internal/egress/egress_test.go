package egress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() config.EgressConfig {
	return config.EgressConfig{
		Strategy:    []string{"direct", "mobile", "residential"},
		Host:        "gw.example.net",
		Port:        "823",
		Country:     "br",
		MaxFailures: 3,
		Cooldown:    config.D(30 * time.Minute),
		Direct:      config.TierConfig{Name: "Direct"},
		Mobile:      config.TierConfig{Name: "Mobile", User: "mob", Pass: "secret"},
		Residential: config.TierConfig{Name: "Residential", User: "res", Pass: "secret"},
	}
}

// tierProber 按层级返回预设结果，代理 URL 的用户名用于识别层级。
type tierProber struct {
	mu    sync.Mutex
	fail  map[Tier]bool
	calls map[Tier]int
}

func newTierProber(failing ...Tier) *tierProber {
	p := &tierProber{fail: map[Tier]bool{}, calls: map[Tier]int{}}
	for _, t := range failing {
		p.fail[t] = true
	}
	return p
}

func (p *tierProber) tierOf(proxy *url.URL) Tier {
	if proxy == nil {
		return TierDirect
	}
	if strings.HasPrefix(proxy.User.Username(), "mob") {
		return TierMobile
	}
	return TierResidential
}

func (p *tierProber) Probe(ctx context.Context, proxy *url.URL) (ProbeResult, error) {
	t := p.tierOf(proxy)
	p.mu.Lock()
	p.calls[t]++
	fail := p.fail[t]
	p.mu.Unlock()
	if fail {
		return ProbeResult{}, errors.New("connection refused")
	}
	return ProbeResult{IP: "203.0.113.7", Latency: 20 * time.Millisecond}, nil
}

func (p *tierProber) setFail(t Tier, fail bool) {
	p.mu.Lock()
	p.fail[t] = fail
	p.mu.Unlock()
}

func (p *tierProber) count(t Tier) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[t]
}

func newTestController(cfg config.EgressConfig, prober Prober, clock *fakeClock) *Controller {
	reg := NewRegistry(cfg.MaxFailures, cfg.Cooldown.Duration, logger.Discard(), WithClock(clock.Now))
	c := NewController(cfg, reg, prober, logger.Discard())
	c.now = clock.Now
	return c
}

func TestAcquirePrefersFirstHealthyTier(t *testing.T) {
	prober := newTierProber()
	c := newTestController(testConfig(), prober, newFakeClock())

	d, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d.Tier != TierDirect || !d.Direct() {
		t.Fatalf("expected direct, got %s", d.Tier)
	}
	if d.ProxyURL() != nil || d.ProxyServer() != "" {
		t.Fatal("direct descriptor should carry no proxy")
	}
	if d.PublicIP != "203.0.113.7" {
		t.Fatalf("public ip = %q", d.PublicIP)
	}
}

func TestAcquireFallsBackAndBuildsCredentials(t *testing.T) {
	prober := newTierProber(TierDirect)
	c := newTestController(testConfig(), prober, newFakeClock())
	c.newSession = func() string { return "abc123" }

	d, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d.Tier != TierMobile {
		t.Fatalf("expected mobile, got %s", d.Tier)
	}
	if d.Username != "mob__sid.abc123" {
		t.Fatalf("mobile username = %q", d.Username)
	}
	if d.Endpoint != "gw.example.net:823" || d.ProxyServer() != "http://gw.example.net:823" {
		t.Fatalf("endpoint = %q", d.Endpoint)
	}
	u := d.ProxyURL()
	if pass, _ := u.User.Password(); pass != "secret" {
		t.Fatalf("proxy password = %q", pass)
	}
	if strings.Contains(d.String(), "secret") {
		t.Fatalf("descriptor string leaks password: %s", d.String())
	}

	h := c.Registry().Snapshot()
	if h[0].Tier != TierDirect || h[0].Failures != 1 {
		t.Fatalf("direct failure not recorded: %+v", h[0])
	}
}

func TestResidentialUsername(t *testing.T) {
	cfg := testConfig()
	cfg.Direct.Disabled = true
	cfg.Mobile.Disabled = true
	c := newTestController(cfg, newTierProber(), newFakeClock())
	c.newSession = func() string { return "s1" }

	d, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d.Username != "res__cr.br__sid.s1" {
		t.Fatalf("residential username = %q", d.Username)
	}

	cfg.Residential.Prefix = "__cr.us"
	c = newTestController(cfg, newTierProber(), newFakeClock())
	c.newSession = func() string { return "s2" }
	d, _ = c.Acquire(context.Background())
	if d.Username != "res__cr.us__sid.s2" {
		t.Fatalf("residential username with prefix = %q", d.Username)
	}
}

func TestAllTiersDisabledNamesEveryTier(t *testing.T) {
	cfg := testConfig()
	cfg.Direct.Disabled = true
	cfg.Mobile.Disabled = true
	cfg.Residential.Disabled = true
	prober := newTierProber()
	c := newTestController(cfg, prober, newFakeClock())

	d, err := c.Acquire(context.Background())
	if d != nil {
		t.Fatalf("expected no descriptor, got %v", d)
	}
	if !errors.Is(err, ErrNoEgress) {
		t.Fatalf("expected ErrNoEgress, got %v", err)
	}
	var noEgress *NoEgressError
	if !errors.As(err, &noEgress) {
		t.Fatalf("expected *NoEgressError, got %T", err)
	}
	tiers := noEgress.Tiers()
	if len(tiers) != 3 {
		t.Fatalf("expected three tiers, got %v", tiers)
	}
	for _, want := range []string{"direct", "mobile", "residential"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not name %s", err.Error(), want)
		}
	}
	if prober.count(TierDirect)+prober.count(TierMobile)+prober.count(TierResidential) != 0 {
		t.Fatal("disabled tiers must not be probed")
	}
}

func TestUnconfiguredTierSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Mobile.User = ""
	prober := newTierProber(TierDirect)
	c := newTestController(cfg, prober, newFakeClock())

	d, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d.Tier != TierResidential {
		t.Fatalf("expected residential, got %s", d.Tier)
	}
	if prober.count(TierMobile) != 0 {
		t.Fatal("unconfigured tier must not be probed")
	}
}

func TestTierBlockedAfterMaxFailuresUntilCooldown(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Mobile.Disabled = true
	cfg.Residential.Disabled = true
	prober := newTierProber(TierDirect)
	c := newTestController(cfg, prober, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Acquire(ctx); err == nil {
			t.Fatalf("attempt %d should fail", i)
		}
	}
	if prober.count(TierDirect) != 3 {
		t.Fatalf("probe count = %d", prober.count(TierDirect))
	}
	if !c.Registry().Blocked(TierDirect) {
		t.Fatal("tier should be blocked after 3 failures")
	}

	// 冷却期内即使探测会成功也不再选择
	prober.setFail(TierDirect, false)
	clock.Advance(29 * time.Minute)
	_, err := c.Acquire(ctx)
	if !errors.Is(err, ErrNoEgress) {
		t.Fatalf("blocked tier selected during cooldown: %v", err)
	}
	if prober.count(TierDirect) != 3 {
		t.Fatal("blocked tier must not be probed")
	}

	// 冷却到期后自愈，成功后计数清零
	clock.Advance(time.Minute)
	d, err := c.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after cooldown: %v", err)
	}
	if d.Tier != TierDirect {
		t.Fatalf("tier = %s", d.Tier)
	}
	snap := c.Registry().Snapshot()
	if snap[0].Failures != 0 || snap[0].Blocked {
		t.Fatalf("health not reset: %+v", snap[0])
	}
}

func TestBlockedInvariantUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(3, 30*time.Minute, logger.Discard(), WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.RecordFailure(TierMobile, "probe failed")
		}()
	}
	wg.Wait()

	if !reg.Blocked(TierMobile) {
		t.Fatal("tier should be blocked")
	}
	for _, h := range reg.Snapshot() {
		if h.Blocked && h.Failures < reg.MaxFailures() {
			t.Fatalf("blocked with failures %d < %d", h.Failures, reg.MaxFailures())
		}
	}
	if reg.RecordSuccess(TierMobile) {
		t.Fatal("success must be refused while blocked")
	}
}

func TestConcurrentAcquireNeverSelectsBlockedTier(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	prober := newTierProber()
	c := newTestController(cfg, prober, clock)

	for i := 0; i < 3; i++ {
		c.MarkFailure(TierDirect, "blocked page")
	}

	var (
		wg       sync.WaitGroup
		selected atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := c.Acquire(context.Background())
			if err == nil && d.Tier == TierDirect {
				selected.Add(1)
			}
		}()
	}
	wg.Wait()
	if selected.Load() != 0 {
		t.Fatalf("blocked tier selected %d times", selected.Load())
	}
	if prober.count(TierDirect) != 0 {
		t.Fatal("blocked tier probed")
	}
}

func TestSwitchMarksCurrentAndMovesOn(t *testing.T) {
	prober := newTierProber()
	c := newTestController(testConfig(), prober, newFakeClock())

	d, err := c.Switch(context.Background(), TierDirect)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if d.Tier != TierMobile {
		t.Fatalf("expected mobile, got %s", d.Tier)
	}
	if c.Registry().Snapshot()[0].Failures != 1 {
		t.Fatal("switch should record a failure on the current tier")
	}

	// 最后一个层级之后无可用出口
	_, err = c.Switch(context.Background(), TierResidential)
	if !errors.Is(err, ErrNoEgress) {
		t.Fatalf("expected ErrNoEgress, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	c := newTestController(testConfig(), newTierProber(), newFakeClock())

	d, err := c.Rotate(TierDirect)
	if err != nil || d != nil {
		t.Fatalf("direct rotate = %v, %v", d, err)
	}

	first, err := c.Rotate(TierMobile)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	second, _ := c.Rotate(TierMobile)
	if first.SessionID == "" || first.SessionID == second.SessionID {
		t.Fatalf("rotation should produce a fresh session: %q %q", first.SessionID, second.SessionID)
	}

	cfg := testConfig()
	cfg.Residential.Pass = ""
	c = newTestController(cfg, newTierProber(), newFakeClock())
	if _, err := c.Rotate(TierResidential); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRegistryReset(t *testing.T) {
	reg := NewRegistry(2, time.Hour, logger.Discard())
	reg.RecordFailure(TierResidential, "x")
	reg.RecordFailure(TierResidential, "x")
	if !reg.Blocked(TierResidential) {
		t.Fatal("expected blocked")
	}
	reg.ResetAll()
	if reg.Blocked(TierResidential) {
		t.Fatal("ResetAll should clear cooldown")
	}
}

func TestNewControllerOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = []string{"Residential", "bogus", "direct", "residential"}
	c := NewController(cfg, NewRegistry(3, time.Minute, logger.Discard()), newTierProber(), logger.Discard())
	got := c.Order()
	if len(got) != 2 || got[0] != TierResidential || got[1] != TierDirect {
		t.Fatalf("order = %v", got)
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"198.51.100.4"}`))
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, time.Second)
	res, err := p.Probe(context.Background(), nil)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.IP != "198.51.100.4" {
		t.Fatalf("ip = %q", res.IP)
	}
}

func TestHTTPProberErrors(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	if _, err := NewHTTPProber(bad.URL, time.Second).Probe(context.Background(), nil); err == nil {
		t.Fatal("expected error for 502")
	}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ip":"1.1.1.1"}`))
	}))
	defer slow.Close()
	if _, err := NewHTTPProber(slow.URL, 50*time.Millisecond).Probe(context.Background(), nil); err == nil {
		t.Fatal("expected timeout error")
	}
}
