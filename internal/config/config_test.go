package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Egress.MaxFailures != 3 {
		t.Fatalf("expected max failures 3, got %d", cfg.Egress.MaxFailures)
	}
	if cfg.Egress.Cooldown.Duration != 30*time.Minute {
		t.Fatalf("expected 30m cooldown, got %s", cfg.Egress.Cooldown)
	}
	if cfg.Jobs.MaxAttempts != 2 || cfg.Jobs.BackoffBase.Duration != 10*time.Second {
		t.Fatalf("unexpected job retry defaults: %+v", cfg.Jobs)
	}
	if cfg.Webhook.MaxDelay.Duration != 60*time.Second {
		t.Fatalf("expected webhook max delay 60s, got %s", cfg.Webhook.MaxDelay)
	}
}

func TestLoadJSONAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "egress": {"cooldown": "5m", "max_failures": 2, "strategy": ["mobile", "direct"]},
  "jobs": {"job_timeout": "20m"},
  "humanize": {"move_steps": {"min": 10, "max": 5}}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Egress.Cooldown.Duration != 5*time.Minute {
		t.Fatalf("cooldown not parsed: %s", cfg.Egress.Cooldown)
	}
	if cfg.Egress.MaxFailures != 2 {
		t.Fatalf("max failures not parsed: %d", cfg.Egress.MaxFailures)
	}
	if got := cfg.Egress.Strategy; len(got) != 2 || got[0] != "mobile" {
		t.Fatalf("strategy not parsed: %v", got)
	}
	if cfg.Egress.ProbeTimeout.Duration != 15*time.Second {
		t.Fatalf("probe timeout default missing: %s", cfg.Egress.ProbeTimeout)
	}
	if cfg.Jobs.PendingIdle.Duration <= cfg.Jobs.JobTimeout.Duration {
		t.Fatalf("pending idle %s must exceed job timeout %s", cfg.Jobs.PendingIdle, cfg.Jobs.JobTimeout)
	}
	if cfg.Humanize.MoveSteps.Max != 10 {
		t.Fatalf("inverted range not repaired: %+v", cfg.Humanize.MoveSteps)
	}
	if cfg.Extraction.BatchSize != 20 {
		t.Fatalf("batch size default missing: %d", cfg.Extraction.BatchSize)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app:
  log_level: debug
egress:
  probe_timeout: 3s
webhook:
  max_retries: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("log level not parsed: %s", cfg.App.LogLevel)
	}
	if cfg.Egress.ProbeTimeout.Duration != 3*time.Second {
		t.Fatalf("probe timeout not parsed: %s", cfg.Egress.ProbeTimeout)
	}
	if cfg.Webhook.MaxRetries != 5 {
		t.Fatalf("max retries not parsed: %d", cfg.Webhook.MaxRetries)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeFile(t, "config.json", `{"egress": {"cooldown": "soon"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EGRESS_STRATEGY", "Residential, direct")
	t.Setenv("EGRESS_COOLDOWN", "45m")
	t.Setenv("PROXY_MOBILE_USER", "acct")
	t.Setenv("JOBS_MAX_ATTEMPTS", "4")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "leads")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Egress.Strategy; len(got) != 2 || got[0] != "residential" || got[1] != "direct" {
		t.Fatalf("strategy override: %v", got)
	}
	if cfg.Egress.Cooldown.Duration != 45*time.Minute {
		t.Fatalf("cooldown override: %s", cfg.Egress.Cooldown)
	}
	if cfg.Egress.Mobile.User != "acct" {
		t.Fatalf("mobile user override: %q", cfg.Egress.Mobile.User)
	}
	if cfg.Jobs.MaxAttempts != 4 {
		t.Fatalf("max attempts override: %d", cfg.Jobs.MaxAttempts)
	}
	parsed := parseMySQLDSN(cfg.MySQL.DSN)
	if parsed.Addr != "db.internal:3306" || parsed.DBName != "leads" {
		t.Fatalf("dsn override: %s", cfg.MySQL.DSN)
	}
}
