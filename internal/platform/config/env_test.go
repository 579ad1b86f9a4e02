package config

import "testing"

func TestParseEnv(t *testing.T) {
	type testConfig struct {
		DatabasePath string `env:"KEYSTONE_TEST_DB_PATH" envDefault:"keystone.db"`
		LogLimit     int    `env:"KEYSTONE_TEST_LOG_LIMIT" envDefault:"100"`
	}

	t.Setenv("KEYSTONE_TEST_DB_PATH", "/tmp/governance.db")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("ParseEnv error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/governance.db" {
		t.Fatalf("DatabasePath = %q, want /tmp/governance.db", cfg.DatabasePath)
	}
	if cfg.LogLimit != 100 {
		t.Fatalf("LogLimit = %d, want default 100", cfg.LogLimit)
	}
}

func TestParseEnvInvalidValue(t *testing.T) {
	type testConfig struct {
		LogLimit int `env:"KEYSTONE_TEST_LOG_LIMIT"`
	}

	t.Setenv("KEYSTONE_TEST_LOG_LIMIT", "not a number")

	var cfg testConfig
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected ParseEnv to reject a non-numeric value")
	}
}
