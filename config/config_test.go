package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/salary-engine/payroll"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "8000", cfg.Payroll.PersonMonthRate)
	assert.Equal(t, payroll.DuplicateAppend, cfg.Payroll.Duplicates())

	calc := cfg.Payroll.Calculator()
	assert.Equal(t, 17, calc.EligibleDays.DaysIn(time.February))
	assert.Equal(t, 18, calc.EligibleDays.DaysIn(time.March))
	assert.Equal(t, "SEK", calc.Currency)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n"+
		"  port: \"9090\"\n"+
		"payroll:\n"+
		"  person_month_rate: \"7500.50\"\n"+
		"  duplicate_policy: reject\n"+
		"  log_level: debug\n"+
		"  eligible_days:\n"+
		"    default: 20\n"+
		"    months:\n"+
		"      8: 10\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "./data/salary.db", cfg.Database.Path)
	assert.Equal(t, payroll.DuplicateReject, cfg.Payroll.Duplicates())
	assert.True(t, cfg.Payroll.Debug())

	calc := cfg.Payroll.Calculator()
	assert.Equal(t, "7500.5", calc.PersonMonthRate.String())
	assert.Equal(t, 10, calc.EligibleDays.DaysIn(time.August))
	assert.Equal(t, "SEK", calc.Currency)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative rate", "payroll:\n  person_month_rate: \"-1\"\n"},
		{"non numeric rate", "payroll:\n  person_month_rate: abc\n"},
		{"zero default days", "payroll:\n  eligible_days:\n    default: 0\n"},
		{"month out of range", "payroll:\n  eligible_days:\n    months:\n      13: 10\n"},
		{"unknown duplicate policy", "payroll:\n  duplicate_policy: overwrite\n"},
		{"unknown log level", "payroll:\n  log_level: trace\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
