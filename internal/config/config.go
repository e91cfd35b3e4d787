package config

import (
	"fmt"
	"os"
	"time"

	"SavingsCircle/internal/circle"
	"SavingsCircle/internal/model"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Grant is a genesis balance minted into the ledger on first start.
type Grant struct {
	Asset   string `yaml:"asset"`
	Account string `yaml:"account"`
	Amount  int64  `yaml:"amount"`
}

// CircleSpec describes a circle created on first start.
type CircleSpec struct {
	Owner         string        `yaml:"owner"`
	TokenAsset    string        `yaml:"token_asset"`
	DepositAmount int64         `yaml:"deposit_amount"`
	CycleInterval time.Duration `yaml:"cycle_interval"`
	JoinDeadline  time.Duration `yaml:"join_deadline"`
	Members       []string      `yaml:"members"`
	Reserve       int64         `yaml:"reserve"` // funded by the owner after creation
	AutoJoin      bool          `yaml:"auto_join"`
}

// ToConfig converts s into an engine circle config.
func (s CircleSpec) ToConfig() model.CircleConfig {
	members := make([]model.Address, len(s.Members))
	for i, m := range s.Members {
		members[i] = model.Address(m)
	}
	return model.CircleConfig{
		Owner:         model.Address(s.Owner),
		TokenAsset:    s.TokenAsset,
		DepositAmount: s.DepositAmount,
		CycleInterval: s.CycleInterval,
		JoinDeadline:  s.JoinDeadline,
		Members:       members,
	}
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Keeper struct {
		Cron       string `yaml:"cron"`
		DigestCron string `yaml:"digest_cron"`
		Caller     string `yaml:"caller"`
	} `yaml:"keeper"`
	Ledger struct {
		StateFile string  `yaml:"state_file"`
		Genesis   []Grant `yaml:"genesis"`
	} `yaml:"ledger"`
	Database struct {
		SQLitePath  string `yaml:"sqlite_path"`
		HistoryPath string `yaml:"history_path"`
	} `yaml:"database"`
	Policy struct {
		InitialReputation int64  `yaml:"initial_reputation"`
		ReputationFloor   int64  `yaml:"reputation_floor"`
		DepositReward     int64  `yaml:"deposit_reward"`
		MissPenalty       int64  `yaml:"miss_penalty"`
		LatePenalty       int64  `yaml:"late_penalty"`
		MissFineBps       int64  `yaml:"miss_fine_bps"`
		LateFineBps       int64  `yaml:"late_fine_bps"`
		Pot               string `yaml:"pot"`
	} `yaml:"policy"`
	Circles []CircleSpec `yaml:"circles"`
	Proxy   string       `yaml:"proxy"`
}

// envOverrides lists the variables that take precedence over the file.
type envOverrides struct {
	BotToken     string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID       string `env:"TELEGRAM_CHAT_ID"`
	KeeperCron   string `env:"KEEPER_CRON"`
	KeeperCaller string `env:"KEEPER_CALLER"`
	StateFile    string `env:"LEDGER_STATE_FILE"`
	SQLitePath   string `env:"SQLITE_PATH"`
	HistoryPath  string `env:"HISTORY_PATH"`
	Pot          string `env:"POT_POLICY"`
	Proxy        string `env:"HTTPS_PROXY"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	p := circle.DefaultPolicy()
	cfg.Policy.InitialReputation = p.InitialReputation
	cfg.Policy.ReputationFloor = p.ReputationFloor
	cfg.Policy.DepositReward = p.DepositReward
	cfg.Policy.MissPenalty = p.MissPenalty
	cfg.Policy.LatePenalty = p.LatePenalty
	cfg.Policy.MissFineBps = p.MissFineBps
	cfg.Policy.LateFineBps = p.LateFineBps

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	setIf(&cfg.Telegram.BotToken, ov.BotToken)
	setIf(&cfg.Telegram.ChatID, ov.ChatID)
	setIf(&cfg.Keeper.Cron, ov.KeeperCron)
	setIf(&cfg.Keeper.Caller, ov.KeeperCaller)
	setIf(&cfg.Ledger.StateFile, ov.StateFile)
	setIf(&cfg.Database.SQLitePath, ov.SQLitePath)
	setIf(&cfg.Database.HistoryPath, ov.HistoryPath)
	setIf(&cfg.Policy.Pot, ov.Pot)
	setIf(&cfg.Proxy, ov.Proxy)

	// Defaults
	if cfg.Keeper.Cron == "" {
		cfg.Keeper.Cron = "0 */5 * * * *"
	}
	if cfg.Keeper.DigestCron == "" {
		cfg.Keeper.DigestCron = "0 0 9 * * *"
	}
	if cfg.Keeper.Caller == "" {
		cfg.Keeper.Caller = "keeper"
	}
	if cfg.Ledger.StateFile == "" {
		cfg.Ledger.StateFile = "data/ledger.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/circles.db"
	}
	if cfg.Database.HistoryPath == "" {
		cfg.Database.HistoryPath = "data/history.db"
	}
	if cfg.Policy.Pot == "" {
		cfg.Policy.Pot = string(circle.PotCollected)
	}

	return cfg, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ToPolicy returns the engine policy described by the policy section.
func (c *Config) ToPolicy() circle.Policy {
	return circle.Policy{
		InitialReputation: c.Policy.InitialReputation,
		ReputationFloor:   c.Policy.ReputationFloor,
		DepositReward:     c.Policy.DepositReward,
		MissPenalty:       c.Policy.MissPenalty,
		LatePenalty:       c.Policy.LatePenalty,
		MissFineBps:       c.Policy.MissFineBps,
		LateFineBps:       c.Policy.LateFineBps,
		Pot:               circle.PotPolicy(c.Policy.Pot),
	}
}

// TelegramEnabled reports whether chat notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if err := c.ToPolicy().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	for i, g := range c.Ledger.Genesis {
		if g.Asset == "" || g.Account == "" || g.Amount <= 0 {
			return fmt.Errorf("ledger.genesis[%d]: asset, account and a positive amount are required", i)
		}
	}
	for i, s := range c.Circles {
		if s.Owner == "" {
			return fmt.Errorf("circles[%d].owner is required", i)
		}
		if s.Reserve < 0 {
			return fmt.Errorf("circles[%d].reserve must not be negative", i)
		}
	}
	return nil
}
