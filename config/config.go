// Package config loads the server and payroll settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/salary-engine/payroll"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Payroll  PayrollConfig  `yaml:"payroll"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PayrollConfig holds the grant conventions. PersonMonthRate is a decimal
// string so YAML never rounds it through a float.
type PayrollConfig struct {
	PersonMonthRate string             `yaml:"person_month_rate"`
	Currency        string             `yaml:"currency"`
	EligibleDays    EligibleDaysConfig `yaml:"eligible_days"`
	DuplicatePolicy string             `yaml:"duplicate_policy"`
	LogLevel        string             `yaml:"log_level"`
}

// EligibleDaysConfig maps month numbers (1-12) to eligible working days.
type EligibleDaysConfig struct {
	Default int         `yaml:"default"`
	Months  map[int]int `yaml:"months"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{Path: "./data/salary.db"},
		Payroll: PayrollConfig{
			PersonMonthRate: payroll.DefaultPersonMonthRate.String(),
			Currency:        "SEK",
			EligibleDays: EligibleDaysConfig{
				Default: 18,
				Months:  map[int]int{2: 17},
			},
			DuplicatePolicy: string(payroll.DuplicateAppend),
			LogLevel:        "info",
		},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every value the engine depends on.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	rate, err := decimal.NewFromString(c.Payroll.PersonMonthRate)
	if err != nil {
		return fmt.Errorf("payroll.person_month_rate %q is not a number", c.Payroll.PersonMonthRate)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("payroll.person_month_rate must be positive")
	}
	if strings.TrimSpace(c.Payroll.Currency) == "" {
		return fmt.Errorf("payroll.currency is required")
	}

	if c.Payroll.EligibleDays.Default <= 0 {
		return fmt.Errorf("payroll.eligible_days.default must be positive")
	}
	for month, days := range c.Payroll.EligibleDays.Months {
		if month < 1 || month > 12 {
			return fmt.Errorf("payroll.eligible_days.months: month %d out of range", month)
		}
		if days <= 0 {
			return fmt.Errorf("payroll.eligible_days.months: month %d must have positive days", month)
		}
	}

	if _, err := payroll.ParseDuplicatePolicy(c.Payroll.DuplicatePolicy); err != nil {
		return fmt.Errorf("payroll.duplicate_policy %q: must be append or reject", c.Payroll.DuplicatePolicy)
	}
	switch c.Payroll.LogLevel {
	case "", "info", "debug":
	default:
		return fmt.Errorf("payroll.log_level %q: must be info or debug", c.Payroll.LogLevel)
	}
	return nil
}

// Calculator builds the payroll calculator these settings describe.
// Call Validate first.
func (p PayrollConfig) Calculator() *payroll.Calculator {
	calc := payroll.NewCalculator()
	calc.PersonMonthRate = decimal.RequireFromString(p.PersonMonthRate)
	calc.Currency = p.Currency

	months := make(map[time.Month]int, len(p.EligibleDays.Months))
	for m, days := range p.EligibleDays.Months {
		months[time.Month(m)] = days
	}
	calc.EligibleDays = payroll.EligibleDaysPolicy{Default: p.EligibleDays.Default, Months: months}
	return calc
}

// Duplicates is the parsed duplicate policy. Call Validate first.
func (p PayrollConfig) Duplicates() payroll.DuplicatePolicy {
	policy, _ := payroll.ParseDuplicatePolicy(p.DuplicatePolicy)
	return policy
}

// Debug reports whether per-group truing figures should be logged.
func (p PayrollConfig) Debug() bool {
	return p.LogLevel == "debug"
}
