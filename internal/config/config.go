package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"signalwars/internal/domain"
)

// Forfeit destinations for the stake of a losing prediction.
const (
	ForfeitTreasury   = "treasury"
	ForfeitSeasonPool = "season_pool"
	ForfeitBurn       = "burn"
)

// CronParser accepts the six-field schedules the keeper runs with.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config models arena.yml.
type Config struct {
	Limits struct {
		NameMax      int `yaml:"name_max"`
		EndpointMax  int `yaml:"endpoint_max"`
		PlaintextMax int `yaml:"plaintext_max"`
	} `yaml:"limits"`
	Scoring struct {
		BaseMultiplier uint64 `yaml:"base_multiplier"`
		StreakStep     uint64 `yaml:"streak_step"`
	} `yaml:"scoring"`
	Reputation map[domain.AchievementType]uint64 `yaml:"reputation"`
	Ledger     struct {
		ForfeitTo     string `yaml:"forfeit_to"`
		AllowDeposits *bool  `yaml:"allow_deposits"`
	} `yaml:"ledger"`
	Keeper struct {
		Authority        string `yaml:"authority"`
		SettleCron       string `yaml:"settle_cron"`
		AchievementsCron string `yaml:"achievements_cron"`
	} `yaml:"keeper"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		DevAuth  bool   `yaml:"dev_auth"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Relay    struct {
		NATSURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"relay"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// DepositsAllowed reports whether the external funds faucet is open.
func (c *Config) DepositsAllowed() bool {
	return c.Ledger.AllowDeposits == nil || *c.Ledger.AllowDeposits
}

// ReputationFor returns the reputation granted by an achievement type.
func (c *Config) ReputationFor(t domain.AchievementType) uint64 {
	if v, ok := c.Reputation[t]; ok {
		return v
	}
	return defaultReputation[t]
}

var defaultReputation = map[domain.AchievementType]uint64{
	domain.AchievementFirstWin:    10,
	domain.AchievementStreak3:     25,
	domain.AchievementStreak5:     50,
	domain.AchievementStreak10:    100,
	domain.AchievementRankSilver:  15,
	domain.AchievementRankGold:    30,
	domain.AchievementRankDiamond: 60,
	domain.AchievementRankLegend:  100,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with arena config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config when the workspace has none.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.NameMax <= 0 {
		return fmt.Errorf("config.limits.name_max must be positive")
	}
	if c.Limits.EndpointMax <= 0 {
		return fmt.Errorf("config.limits.endpoint_max must be positive")
	}
	if c.Limits.PlaintextMax <= 0 {
		return fmt.Errorf("config.limits.plaintext_max must be positive")
	}
	if c.Scoring.BaseMultiplier == 0 {
		return fmt.Errorf("config.scoring.base_multiplier must be positive")
	}
	for t := range c.Reputation {
		if !t.Valid() {
			return fmt.Errorf("config.reputation has unknown achievement type %s", t)
		}
	}
	switch c.Ledger.ForfeitTo {
	case ForfeitTreasury, ForfeitSeasonPool, ForfeitBurn:
	default:
		return fmt.Errorf("config.ledger.forfeit_to must be one of treasury, season_pool, burn")
	}
	for name, spec := range map[string]string{
		"settle_cron":       c.Keeper.SettleCron,
		"achievements_cron": c.Keeper.AchievementsCron,
	} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := CronParser.Parse(spec); err != nil {
			return fmt.Errorf("config.keeper.%s: %w", name, err)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Relay.NATSURL != "" {
		if c.Relay.SubjectPrefix == "" || strings.ContainsAny(c.Relay.SubjectPrefix, " *>") {
			return fmt.Errorf("config.relay.subject_prefix must be a literal NATS subject")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "arena.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `limits:
  name_max: 32
  endpoint_max: 128
  plaintext_max: 256

scoring:
  # multiplier percent = base_multiplier + streak_step * (streak - 1)
  base_multiplier: 100
  streak_step: 10

reputation:
  first_win: 10
  streak_3: 25
  streak_5: 50
  streak_10: 100
  rank_silver: 15
  rank_gold: 30
  rank_diamond: 60
  rank_legend: 100

ledger:
  forfeit_to: treasury
  allow_deposits: true

keeper:
  settle_cron: "0 */5 * * * *"
  achievements_cron: "30 * * * * *"

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  dev_auth: false

# events are published to <subject_prefix>.<event type> when nats_url is set
relay:
  nats_url: ""
  subject_prefix: arena
`
