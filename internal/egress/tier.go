package egress

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier 出口层级。
type Tier string

const (
	TierDirect      Tier = "direct"
	TierMobile      Tier = "mobile"
	TierResidential Tier = "residential"
)

// AllTiers 内置层级，按默认尝试顺序排列。
var AllTiers = []Tier{TierDirect, TierMobile, TierResidential}

func (t Tier) builtin() bool {
	for _, b := range AllTiers {
		if b == t {
			return true
		}
	}
	return false
}

// ParseTier 解析层级名称。
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.builtin() {
		return "", fmt.Errorf("unknown egress tier %q", s)
	}
	return t, nil
}

// Descriptor 一次获取到的可用出口。
type Descriptor struct {
	Tier      Tier
	Name      string
	Username  string
	Password  string
	SessionID string        // 粘性会话 ID，直连为空
	Endpoint  string        // host:port，直连为空
	Latency   time.Duration // 探测延迟
	PublicIP  string        // 探测到的出口 IP
	Acquired  time.Time
}

// Direct 是否为直连。
func (d *Descriptor) Direct() bool {
	return d == nil || d.Tier == TierDirect
}

// ProxyServer 返回浏览器 --proxy-server 参数使用的地址（不含凭据）。
func (d *Descriptor) ProxyServer() string {
	if d.Direct() {
		return ""
	}
	return "http://" + d.Endpoint
}

// ProxyURL 返回带凭据的代理 URL，直连返回 nil。
func (d *Descriptor) ProxyURL() *url.URL {
	if d.Direct() {
		return nil
	}
	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   d.Endpoint,
	}
}

// String 脱敏后的描述，用于日志。
func (d *Descriptor) String() string {
	if d.Direct() {
		return "direct"
	}
	return fmt.Sprintf("%s@%s (sid=%s)", d.Tier, d.Endpoint, d.SessionID)
}

// ErrNotConfigured 层级缺少凭据。
var ErrNotConfigured = errors.New("egress tier not configured")

// newSessionID 生成粘性会话 ID。
func newSessionID() string {
	return "ml" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// buildUsername 构造层级账号。
//
// 移动代理：<user>__sid.<sid>；住宅代理：<user><prefix>__sid.<sid>，
// prefix 默认 __cr.<country>。
func buildUsername(t Tier, user, prefix, country, sid string) string {
	if t == TierMobile {
		return fmt.Sprintf("%s__sid.%s", user, sid)
	}
	if prefix == "" {
		if country == "" {
			country = "br"
		}
		prefix = "__cr." + strings.ToLower(country)
	}
	return fmt.Sprintf("%s%s__sid.%s", user, prefix, sid)
}

func joinHostPort(host, port string) string {
	return net.JoinHostPort(host, port)
}
