package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持 "30s" / "10m" 字符串形式的时长，JSON 与 YAML 通用。
type Duration struct {
	time.Duration
}

// D 包装 time.Duration。
func D(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalJSON 接受字符串（"1m30s"）或纳秒整数。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v)
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration type %T", raw)
	}
	return nil
}

// MarshalJSON 序列化为字符串。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// UnmarshalYAML 与 JSON 规则一致。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
