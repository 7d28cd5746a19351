package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VerifyMode 名字校验策略
type VerifyMode string

const (
	VerifyAlways   VerifyMode = "always"
	VerifyBalanced VerifyMode = "balanced"
	VerifyNever    VerifyMode = "never"
)

// Config 服务端配置（YAML）
type Config struct {
	ServerName string `yaml:"server_name"`
	MOTD       string `yaml:"motd"`
	Addr       string `yaml:"addr"`
	HTTPAddr   string `yaml:"http_addr"`
	ExternalIP string `yaml:"external_ip"`

	MaxPlayers               int        `yaml:"max_players"`
	Salt                     string     `yaml:"salt"`
	VerifyNames              VerifyMode `yaml:"verify_names"`
	AllowEmailAccounts       bool       `yaml:"allow_email_accounts"`
	AllowUnverifiedLAN       bool       `yaml:"allow_unverified_lan"`
	LowLatencyMode           bool       `yaml:"low_latency_mode"`
	ShowConnectionMessages   bool       `yaml:"show_connection_messages"`
	WoMEnableEnvExtensions   bool       `yaml:"wom_env_extensions"`
	BandwidthUseMode         string     `yaml:"bandwidth_use_mode"`
	MaxSessionPacketsPerTick int        `yaml:"max_session_packets_per_tick"`
	SocketTimeoutMs          int        `yaml:"socket_timeout_ms"`
	ConnectionsPerIPPerSec   float64    `yaml:"connections_per_ip_per_sec"`

	Antispam Antispam `yaml:"antispam"`

	DefaultRank string        `yaml:"default_rank"`
	Ranks       []RankConfig  `yaml:"ranks"`
	Worlds      []WorldConfig `yaml:"worlds"`

	DBPath       string `yaml:"db_path"`
	LogPath      string `yaml:"log_path"`
	CrashLogPath string `yaml:"crash_log_path"`
	GreetingFile string `yaml:"greeting_file"`
}

// Antispam 聊天限流参数（可在管理接口热更新）
type Antispam struct {
	MessageCount    int `yaml:"message_count" json:"messageCount"`
	IntervalSeconds int `yaml:"interval_seconds" json:"intervalSeconds"`
	MaxWarnings     int `yaml:"max_warnings" json:"maxWarnings"`
	MuteSeconds     int `yaml:"mute_seconds" json:"muteSeconds"`
}

// RankConfig 等级：权限集合 + 防破坏阈值
type RankConfig struct {
	Name             string   `yaml:"name"`
	Color            string   `yaml:"color"`
	Prefix           string   `yaml:"prefix"`
	Permissions      []string `yaml:"permissions"`
	AntiGriefBlocks  int      `yaml:"antigrief_blocks"`
	AntiGriefSeconds int      `yaml:"antigrief_seconds"`
}

// WorldConfig 世界定义；地图尺寸单位为方块
type WorldConfig struct {
	Name     string `yaml:"name"`
	Width    int    `yaml:"width"`
	Length   int    `yaml:"length"`
	Height   int    `yaml:"height"`
	Main     bool   `yaml:"main"`
	Locked   bool   `yaml:"locked"`
	Hidden   bool   `yaml:"hidden"`
	Greeting string `yaml:"greeting"`
}

// Default 内置默认值，YAML 中未出现的字段保持不变
func Default() Config {
	return Config{
		ServerName:               "minicraft",
		MOTD:                     "Welcome to the server!",
		Addr:                     ":25565",
		HTTPAddr:                 ":8080",
		MaxPlayers:               20,
		VerifyNames:              VerifyBalanced,
		AllowUnverifiedLAN:       false,
		ShowConnectionMessages:   true,
		BandwidthUseMode:         "normal",
		MaxSessionPacketsPerTick: 128,
		SocketTimeoutMs:          10000,
		ConnectionsPerIPPerSec:   2,
		Antispam: Antispam{
			MessageCount:    3,
			IntervalSeconds: 4,
			MaxWarnings:     2,
			MuteSeconds:     5,
		},
		DefaultRank: "guest",
		Ranks: []RankConfig{
			{
				Name:             "guest",
				Color:            "&7",
				Permissions:      []string{"chat", "build", "delete"},
				AntiGriefBlocks:  47,
				AntiGriefSeconds: 6,
			},
			{
				Name:        "op",
				Color:       "&c",
				Prefix:      "@",
				Permissions: []string{"chat", "build", "delete", "speedhack", "colors", "hide", "kick", "hidden_view", "lock_bypass"},
			},
		},
		Worlds: []WorldConfig{
			{Name: "main", Width: 64, Length: 64, Height: 64, Main: true},
		},
		DBPath:       "players.db",
		LogPath:      "app.log",
		CrashLogPath: "crash.log",
	}
}

// Load 读取 YAML 配置并叠加在默认值之上
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	switch c.VerifyNames {
	case VerifyAlways, VerifyBalanced, VerifyNever:
	default:
		return fmt.Errorf("verify_names: unknown mode %q", c.VerifyNames)
	}
	if c.MaxPlayers < 1 {
		return fmt.Errorf("max_players must be positive, got %d", c.MaxPlayers)
	}
	if c.MaxSessionPacketsPerTick < 1 {
		return fmt.Errorf("max_session_packets_per_tick must be positive, got %d", c.MaxSessionPacketsPerTick)
	}
	if len(c.Ranks) == 0 {
		return fmt.Errorf("at least one rank is required")
	}
	seen := make(map[string]bool, len(c.Ranks))
	for _, r := range c.Ranks {
		key := strings.ToLower(r.Name)
		if key == "" {
			return fmt.Errorf("rank with empty name")
		}
		if seen[key] {
			return fmt.Errorf("duplicate rank %q", r.Name)
		}
		seen[key] = true
	}
	if !seen[strings.ToLower(c.DefaultRank)] {
		return fmt.Errorf("default_rank %q is not defined", c.DefaultRank)
	}
	mains := 0
	for _, w := range c.Worlds {
		if w.Name == "" {
			return fmt.Errorf("world with empty name")
		}
		if w.Width < 16 || w.Length < 16 || w.Height < 16 || w.Width > 1024 || w.Length > 1024 || w.Height > 1024 {
			return fmt.Errorf("world %q: dimensions out of range", w.Name)
		}
		if w.Main {
			mains++
		}
	}
	if mains != 1 {
		return fmt.Errorf("exactly one main world is required, got %d", mains)
	}
	return nil
}
