package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 保存应用程序配置。
type Config struct {
	App        AppConfig        `json:"app" yaml:"app"`
	MySQL      MySQLConfig      `json:"mysql" yaml:"mysql"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Browser    BrowserConfig    `json:"browser" yaml:"browser"`
	Identity   IdentityConfig   `json:"identity" yaml:"identity"`
	Egress     EgressConfig     `json:"egress" yaml:"egress"`
	Humanize   HumanizeConfig   `json:"humanize" yaml:"humanize"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Jobs       JobsConfig       `json:"jobs" yaml:"jobs"`
	Webhook    WebhookConfig    `json:"webhook" yaml:"webhook"`
	Email      EmailConfig      `json:"email" yaml:"email"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string   `json:"env" yaml:"env"`                   // 运行环境: local / prod
	LogLevel    string   `json:"log_level" yaml:"log_level"`       // 日志级别: debug / info / warn / error
	HTTPAddr    string   `json:"http_addr" yaml:"http_addr"`       // API 服务监听地址
	MetricsAddr string   `json:"metrics_addr" yaml:"metrics_addr"` // Worker 指标与诊断端口
	RateLimit   float64  `json:"rate_limit" yaml:"rate_limit"`     // 导航限流速率（token/s，所有 worker 共享）
	RateBurst   float64  `json:"rate_burst" yaml:"rate_burst"`     // 限流桶容量
	DedupWindow Duration `json:"dedup_window" yaml:"dedup_window"` // 相同任务重复提交的判重窗口
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn" yaml:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`         // Redis 地址 (host:port)
	Password string `json:"password" yaml:"password"` // Redis 密码
	DB       int    `json:"db" yaml:"db"`
}

// BrowserConfig 浏览器配置。
type BrowserConfig struct {
	BinPath           string   `json:"bin_path" yaml:"bin_path"`                     // 浏览器可执行文件路径（为空则自动下载）
	Headless          bool     `json:"headless" yaml:"headless"`                     // 是否使用无头模式
	NavigationTimeout Duration `json:"navigation_timeout" yaml:"navigation_timeout"` // 导航超时
	LaunchTimeout     Duration `json:"launch_timeout" yaml:"launch_timeout"`         // 启动浏览器超时
	BlockResources    bool     `json:"block_resources" yaml:"block_resources"`       // 屏蔽图片/字体/媒体
	DebugCapture      bool     `json:"debug_capture" yaml:"debug_capture"`           // 失败时保存截图与 HTML
	DebugDir          string   `json:"debug_dir" yaml:"debug_dir"`                   // 调试文件目录
}

// IdentityConfig 浏览器身份（指纹）配置。
type IdentityConfig struct {
	Locale           string   `json:"locale" yaml:"locale"`                       // 默认语言区域，如 pt-BR
	DisableGenerator bool     `json:"disable_generator" yaml:"disable_generator"` // 关闭统计生成器，直接使用参考指纹
	Strategies       []string `json:"strategies" yaml:"strategies"`               // 注入策略顺序（manual 永远追加在最后）
}

// TierConfig 单个出口层级的配置。
type TierConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Name     string `json:"name" yaml:"name"`     // 展示名
	User     string `json:"user" yaml:"user"`     // 账号标识
	Pass     string `json:"pass" yaml:"pass"`     // 密钥
	Prefix   string `json:"prefix" yaml:"prefix"` // 账号后缀（如 __cr.br），为空时按 country 生成
}

// EgressConfig 出口（代理）回退配置。
type EgressConfig struct {
	Strategy      []string   `json:"strategy" yaml:"strategy"`             // 层级尝试顺序
	Host          string     `json:"host" yaml:"host"`                     // 代理网关主机
	Port          string     `json:"port" yaml:"port"`                     // 代理网关端口
	Country       string     `json:"country" yaml:"country"`               // 住宅代理国家选择器
	ProbeURL      string     `json:"probe_url" yaml:"probe_url"`           // 公网 IP 回显地址
	ProbeTimeout  Duration   `json:"probe_timeout" yaml:"probe_timeout"`   // 连通性探测超时
	SlowThreshold Duration   `json:"slow_threshold" yaml:"slow_threshold"` // 超过此延迟记为慢速
	MaxFailures   int        `json:"max_failures" yaml:"max_failures"`     // 连续失败多少次进入冷却
	Cooldown      Duration   `json:"cooldown" yaml:"cooldown"`             // 冷却时长
	Direct        TierConfig `json:"direct" yaml:"direct"`
	Mobile        TierConfig `json:"mobile" yaml:"mobile"`
	Residential   TierConfig `json:"residential" yaml:"residential"`
}

// IntRange 闭区间整数范围。
type IntRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// HumanizeConfig 交互模拟参数（时间单位毫秒，距离单位像素）。
type HumanizeConfig struct {
	MoveSteps        IntRange `json:"move_steps" yaml:"move_steps"`
	StepDelayMs      IntRange `json:"step_delay_ms" yaml:"step_delay_ms"`
	HesitationChance float64  `json:"hesitation_chance" yaml:"hesitation_chance"`
	HesitationMs     IntRange `json:"hesitation_ms" yaml:"hesitation_ms"`
	HoverCount       IntRange `json:"hover_count" yaml:"hover_count"`
	HoverDwellMs     IntRange `json:"hover_dwell_ms" yaml:"hover_dwell_ms"`
	ScrollSteps      IntRange `json:"scroll_steps" yaml:"scroll_steps"`
	ScrollStepMs     IntRange `json:"scroll_step_ms" yaml:"scroll_step_ms"`
	ScrollDistancePx IntRange `json:"scroll_distance_px" yaml:"scroll_distance_px"`
	OvershootChance  float64  `json:"overshoot_chance" yaml:"overshoot_chance"`
	OvershootPx      IntRange `json:"overshoot_px" yaml:"overshoot_px"`
	ReadingMs        IntRange `json:"reading_ms" yaml:"reading_ms"`
	InitialPauseMs   IntRange `json:"initial_pause_ms" yaml:"initial_pause_ms"`
	IdleChance       float64  `json:"idle_chance" yaml:"idle_chance"`
}

// ExtractionConfig 抽取引擎配置。
type ExtractionConfig struct {
	BaseURL       string   `json:"base_url" yaml:"base_url"`             // 地图服务根地址
	BatchSize     int      `json:"batch_size" yaml:"batch_size"`         // 每个结果窗口的条数
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`     // 零结果时切换出口重试的次数
	WindowTimeout Duration `json:"window_timeout" yaml:"window_timeout"` // 单个窗口请求超时
	ProgressEvery int      `json:"progress_every" yaml:"progress_every"` // 每接受多少条上报一次进度
	MaxLimit      int      `json:"max_limit" yaml:"max_limit"`           // 单任务允许的最大条数
	Origin        string   `json:"origin" yaml:"origin"`                 // 线索来源标签
}

// JobsConfig 任务队列与重试配置。
type JobsConfig struct {
	Stream           string   `json:"stream" yaml:"stream"` // Redis Stream 名称
	Group            string   `json:"group" yaml:"group"`   // Consumer Group 名称
	DeadLetterStream string   `json:"dead_letter_stream" yaml:"dead_letter_stream"`
	DelayedKey       string   `json:"delayed_key" yaml:"delayed_key"`           // 延迟重试 ZSET
	Concurrency      int      `json:"concurrency" yaml:"concurrency"`           // 每个进程同时执行的任务数
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`         // 最大尝试次数
	BackoffBase      Duration `json:"backoff_base" yaml:"backoff_base"`         // 指数退避基数
	JobTimeout       Duration `json:"job_timeout" yaml:"job_timeout"`           // 单次执行超时
	PendingIdle      Duration `json:"pending_idle" yaml:"pending_idle"`         // 超过该空闲时间的消息会被其他消费者认领
	BlockTime        Duration `json:"block_time" yaml:"block_time"`             // XREADGROUP 阻塞时间
	PromoteInterval  Duration `json:"promote_interval" yaml:"promote_interval"` // 延迟任务回灌间隔
}

// WebhookConfig Webhook 通知配置。
type WebhookConfig struct {
	MaxRetries    int      `json:"max_retries" yaml:"max_retries"` // 首次之外的重试次数
	BaseDelay     Duration `json:"base_delay" yaml:"base_delay"`
	Multiplier    float64  `json:"multiplier" yaml:"multiplier"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`   // 两次尝试之间的最大间隔
	MaxJitter     Duration `json:"max_jitter" yaml:"max_jitter"` // 随机抖动上限
	Timeout       Duration `json:"timeout" yaml:"timeout"`       // 单次请求超时
	APIKey        string   `json:"api_key" yaml:"api_key"`
	UserAgent     string   `json:"user_agent" yaml:"user_agent"`
	BodyLogLimit  int      `json:"body_log_limit" yaml:"body_log_limit"` // 日志中响应体截断长度
	Workers       int      `json:"workers" yaml:"workers"`               // 投递 worker 数
	QueueCapacity int      `json:"queue_capacity" yaml:"queue_capacity"`
	SendRate      float64  `json:"send_rate" yaml:"send_rate"` // 每秒最大投递次数
}

// EmailConfig 运维告警邮件配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int    `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser  string `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass  string `json:"smtp_pass" yaml:"smtp_pass"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	AlertTo   string `json:"alert_to" yaml:"alert_to"` // 任务最终失败时的告警收件人，为空则不发送
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"` // 外部平台签发租户令牌使用的密钥
}

// Load 从 JSON 或 YAML 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 扩展名为 .yaml / .yml 时按 YAML 解析。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if v := os.Getenv("APP_CONFIG"); v != "" {
		path = v
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Default 返回一份完整的默认配置（测试与工具使用）。
func Default() *Config {
	return getDefaultConfig()
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8081",
			MetricsAddr: ":2112",
			RateLimit:   0.5,
			RateBurst:   2,
			DedupWindow: D(10 * time.Minute),
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/mapleads?parseTime=true&loc=Local&charset=utf8mb4",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: D(60 * time.Second),
			LaunchTimeout:     D(30 * time.Second),
			BlockResources:    true,
			DebugDir:          "/tmp/mapleads/debug",
		},
		Identity: IdentityConfig{
			Locale:     "pt-BR",
			Strategies: []string{"protocol"},
		},
		Egress: EgressConfig{
			Strategy:      []string{"direct", "mobile", "residential"},
			Host:          "gw.dataimpulse.com",
			Port:          "823",
			Country:       "br",
			ProbeURL:      "https://api.ipify.org?format=json",
			ProbeTimeout:  D(15 * time.Second),
			SlowThreshold: D(5 * time.Second),
			MaxFailures:   3,
			Cooldown:      D(30 * time.Minute),
			Direct:        TierConfig{Name: "Direct"},
			Mobile:        TierConfig{Name: "Mobile 4G/5G"},
			Residential:   TierConfig{Name: "Residential"},
		},
		Humanize: HumanizeConfig{
			MoveSteps:        IntRange{Min: 15, Max: 35},
			StepDelayMs:      IntRange{Min: 5, Max: 15},
			HesitationChance: 0.1,
			HesitationMs:     IntRange{Min: 20, Max: 70},
			HoverCount:       IntRange{Min: 2, Max: 4},
			HoverDwellMs:     IntRange{Min: 300, Max: 1200},
			ScrollSteps:      IntRange{Min: 15, Max: 25},
			ScrollStepMs:     IntRange{Min: 10, Max: 25},
			ScrollDistancePx: IntRange{Min: 1500, Max: 2500},
			OvershootChance:  0.3,
			OvershootPx:      IntRange{Min: 50, Max: 150},
			ReadingMs:        IntRange{Min: 800, Max: 2000},
			InitialPauseMs:   IntRange{Min: 2000, Max: 4000},
			IdleChance:       0.1,
		},
		Extraction: ExtractionConfig{
			BaseURL:       "https://www.google.com",
			BatchSize:     20,
			MaxAttempts:   2,
			WindowTimeout: D(30 * time.Second),
			ProgressEvery: 10,
			MaxLimit:      500,
			Origin:        "gmaps_scraper",
		},
		Jobs: JobsConfig{
			Stream:           "mapleads:jobs",
			Group:            "map_scraper_workers",
			DeadLetterStream: "mapleads:jobs:dlq",
			DelayedKey:       "mapleads:jobs:delayed",
			Concurrency:      1,
			MaxAttempts:      2,
			BackoffBase:      D(10 * time.Second),
			JobTimeout:       D(6 * time.Minute),
			PendingIdle:      D(10 * time.Minute),
			BlockTime:        D(2 * time.Second),
			PromoteInterval:  D(1 * time.Second),
		},
		Webhook: WebhookConfig{
			MaxRetries:    3,
			BaseDelay:     D(5 * time.Second),
			Multiplier:    2,
			MaxDelay:      D(60 * time.Second),
			MaxJitter:     D(1 * time.Second),
			Timeout:       D(30 * time.Second),
			UserAgent:     "mapleads-webhook/1.0",
			BodyLogLimit:  500,
			Workers:       4,
			QueueCapacity: 256,
			SendRate:      10,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	defaultString(&cfg.App.Env, defaults.App.Env)
	defaultString(&cfg.App.LogLevel, defaults.App.LogLevel)
	defaultString(&cfg.App.HTTPAddr, defaults.App.HTTPAddr)
	defaultString(&cfg.App.MetricsAddr, defaults.App.MetricsAddr)
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	defaultDuration(&cfg.App.DedupWindow, defaults.App.DedupWindow)

	defaultString(&cfg.MySQL.DSN, defaults.MySQL.DSN)
	defaultString(&cfg.Redis.Addr, defaults.Redis.Addr)

	defaultDuration(&cfg.Browser.NavigationTimeout, defaults.Browser.NavigationTimeout)
	defaultDuration(&cfg.Browser.LaunchTimeout, defaults.Browser.LaunchTimeout)
	defaultString(&cfg.Browser.DebugDir, defaults.Browser.DebugDir)

	defaultString(&cfg.Identity.Locale, defaults.Identity.Locale)
	if cfg.Identity.Strategies == nil {
		cfg.Identity.Strategies = defaults.Identity.Strategies
	}

	e, de := &cfg.Egress, defaults.Egress
	if len(e.Strategy) == 0 {
		e.Strategy = de.Strategy
	}
	defaultString(&e.Host, de.Host)
	defaultString(&e.Port, de.Port)
	defaultString(&e.Country, de.Country)
	defaultString(&e.ProbeURL, de.ProbeURL)
	defaultDuration(&e.ProbeTimeout, de.ProbeTimeout)
	defaultDuration(&e.SlowThreshold, de.SlowThreshold)
	defaultDuration(&e.Cooldown, de.Cooldown)
	if e.MaxFailures <= 0 {
		e.MaxFailures = de.MaxFailures
	}
	defaultString(&e.Direct.Name, de.Direct.Name)
	defaultString(&e.Mobile.Name, de.Mobile.Name)
	defaultString(&e.Residential.Name, de.Residential.Name)

	h, dh := &cfg.Humanize, defaults.Humanize
	defaultRange(&h.MoveSteps, dh.MoveSteps)
	defaultRange(&h.StepDelayMs, dh.StepDelayMs)
	defaultRange(&h.HesitationMs, dh.HesitationMs)
	defaultRange(&h.HoverCount, dh.HoverCount)
	defaultRange(&h.HoverDwellMs, dh.HoverDwellMs)
	defaultRange(&h.ScrollSteps, dh.ScrollSteps)
	defaultRange(&h.ScrollStepMs, dh.ScrollStepMs)
	defaultRange(&h.ScrollDistancePx, dh.ScrollDistancePx)
	defaultRange(&h.OvershootPx, dh.OvershootPx)
	defaultRange(&h.ReadingMs, dh.ReadingMs)
	defaultRange(&h.InitialPauseMs, dh.InitialPauseMs)
	if h.HesitationChance == 0 {
		h.HesitationChance = dh.HesitationChance
	}
	if h.OvershootChance == 0 {
		h.OvershootChance = dh.OvershootChance
	}
	if h.IdleChance == 0 {
		h.IdleChance = dh.IdleChance
	}

	x, dx := &cfg.Extraction, defaults.Extraction
	defaultString(&x.BaseURL, dx.BaseURL)
	defaultString(&x.Origin, dx.Origin)
	defaultInt(&x.BatchSize, dx.BatchSize)
	defaultInt(&x.MaxAttempts, dx.MaxAttempts)
	defaultInt(&x.ProgressEvery, dx.ProgressEvery)
	defaultInt(&x.MaxLimit, dx.MaxLimit)
	defaultDuration(&x.WindowTimeout, dx.WindowTimeout)

	j, dj := &cfg.Jobs, defaults.Jobs
	defaultString(&j.Stream, dj.Stream)
	defaultString(&j.Group, dj.Group)
	defaultString(&j.DeadLetterStream, dj.DeadLetterStream)
	defaultString(&j.DelayedKey, dj.DelayedKey)
	defaultInt(&j.Concurrency, dj.Concurrency)
	defaultInt(&j.MaxAttempts, dj.MaxAttempts)
	defaultDuration(&j.BackoffBase, dj.BackoffBase)
	defaultDuration(&j.JobTimeout, dj.JobTimeout)
	defaultDuration(&j.PendingIdle, dj.PendingIdle)
	defaultDuration(&j.BlockTime, dj.BlockTime)
	defaultDuration(&j.PromoteInterval, dj.PromoteInterval)
	// 空闲认领阈值必须大于单次执行超时，否则运行中的任务会被其他消费者抢走
	if j.PendingIdle.Duration <= j.JobTimeout.Duration {
		j.PendingIdle = D(j.JobTimeout.Duration + time.Minute)
	}

	w, dw := &cfg.Webhook, defaults.Webhook
	defaultInt(&w.MaxRetries, dw.MaxRetries)
	defaultDuration(&w.BaseDelay, dw.BaseDelay)
	defaultDuration(&w.MaxDelay, dw.MaxDelay)
	defaultDuration(&w.MaxJitter, dw.MaxJitter)
	defaultDuration(&w.Timeout, dw.Timeout)
	defaultString(&w.UserAgent, dw.UserAgent)
	defaultInt(&w.BodyLogLimit, dw.BodyLogLimit)
	defaultInt(&w.Workers, dw.Workers)
	defaultInt(&w.QueueCapacity, dw.QueueCapacity)
	if w.Multiplier == 0 {
		w.Multiplier = dw.Multiplier
	}
	if w.SendRate == 0 {
		w.SendRate = dw.SendRate
	}

	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	defaultString(&cfg.Security.JWTSecret, defaults.Security.JWTSecret)
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("chrome_bin", "CHROME_BIN")
	_ = viper.BindEnv("proxy_mobile_user", "PROXY_MOBILE_USER")
	_ = viper.BindEnv("proxy_mobile_pass", "PROXY_MOBILE_PASS")
	_ = viper.BindEnv("proxy_residential_user", "PROXY_RESIDENTIAL_USER")
	_ = viper.BindEnv("proxy_residential_pass", "PROXY_RESIDENTIAL_PASS")
	_ = viper.BindEnv("webhook_api_key", "WEBHOOK_API_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("CRAWLER_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	envFloat("APP_RATE_LIMIT", &cfg.App.RateLimit)
	envFloat("APP_RATE_BURST", &cfg.App.RateBurst)
	envDuration("APP_DEDUP_WINDOW", &cfg.App.DedupWindow)

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := viper.GetString("chrome_bin"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("BROWSER_DEBUG_CAPTURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.DebugCapture = b
		}
	}
	envDuration("BROWSER_NAVIGATION_TIMEOUT", &cfg.Browser.NavigationTimeout)

	if v := os.Getenv("IDENTITY_LOCALE"); v != "" {
		cfg.Identity.Locale = v
	}

	// 出口层级
	if v := os.Getenv("EGRESS_STRATEGY"); v != "" {
		cfg.Egress.Strategy = splitList(v)
	}
	if v := os.Getenv("EGRESS_HOST"); v != "" {
		cfg.Egress.Host = v
	}
	if v := os.Getenv("EGRESS_PORT"); v != "" {
		cfg.Egress.Port = v
	}
	if v := os.Getenv("EGRESS_COUNTRY"); v != "" {
		cfg.Egress.Country = v
	}
	envDuration("EGRESS_PROBE_TIMEOUT", &cfg.Egress.ProbeTimeout)
	envDuration("EGRESS_COOLDOWN", &cfg.Egress.Cooldown)
	envInt("EGRESS_MAX_FAILURES", &cfg.Egress.MaxFailures)
	if v := viper.GetString("proxy_mobile_user"); v != "" {
		cfg.Egress.Mobile.User = v
	}
	if v := viper.GetString("proxy_mobile_pass"); v != "" {
		cfg.Egress.Mobile.Pass = v
	}
	if v := viper.GetString("proxy_residential_user"); v != "" {
		cfg.Egress.Residential.User = v
	}
	if v := viper.GetString("proxy_residential_pass"); v != "" {
		cfg.Egress.Residential.Pass = v
	}

	envInt("EXTRACTION_BATCH_SIZE", &cfg.Extraction.BatchSize)
	envInt("EXTRACTION_MAX_LIMIT", &cfg.Extraction.MaxLimit)

	if v := os.Getenv("JOBS_STREAM"); v != "" {
		cfg.Jobs.Stream = v
	}
	if v := os.Getenv("JOBS_GROUP"); v != "" {
		cfg.Jobs.Group = v
	}
	envInt("JOBS_CONCURRENCY", &cfg.Jobs.Concurrency)
	envInt("JOBS_MAX_ATTEMPTS", &cfg.Jobs.MaxAttempts)
	envDuration("JOBS_BACKOFF_BASE", &cfg.Jobs.BackoffBase)
	envDuration("JOBS_TIMEOUT", &cfg.Jobs.JobTimeout)

	envInt("WEBHOOK_MAX_RETRIES", &cfg.Webhook.MaxRetries)
	if v := viper.GetString("webhook_api_key"); v != "" {
		cfg.Webhook.APIKey = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	envInt("SMTP_PORT", &cfg.Email.SMTPPort)
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Email.AlertTo = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
}

func defaultString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func defaultInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func defaultDuration(dst *Duration, def Duration) {
	if dst.Duration <= 0 {
		*dst = def
	}
}

func defaultRange(dst *IntRange, def IntRange) {
	if dst.Min == 0 && dst.Max == 0 {
		*dst = def
		return
	}
	if dst.Max < dst.Min {
		dst.Max = dst.Min
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = D(d)
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "mapleads",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}
