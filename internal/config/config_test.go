package config

import (
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadWorkerDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"DB_DSN":        "postgres://localhost/db",
		"AWS_REGION":    "us-east-1",
		"SQS_QUEUE_URL": "http://localhost:4566/000000000000/runs",
	})

	cfg := LoadWorker()
	if cfg.BatchSize != 100 || cfg.MaxPerFeePerDay != 3 {
		t.Fatalf("unexpected batching defaults %+v", cfg.EngineConfig)
	}
	if cfg.SendInterval != 100*time.Millisecond {
		t.Fatalf("unexpected send interval %v", cfg.SendInterval)
	}
	if cfg.FailureAlertRate != 0.10 || cfg.RulePolicy != "all" {
		t.Fatalf("unexpected policy defaults %+v", cfg.EngineConfig)
	}
	if cfg.EmailAPIKey != "" {
		t.Fatalf("api key must not default")
	}
}

func TestLoadAPIMonthRange(t *testing.T) {
	setEnv(t, map[string]string{
		"DB_DSN":           "postgres://localhost/db",
		"INTERNAL_API_KEY": "secret",
	})
	cfg := LoadAPI()
	if cfg.DefaultMonths != 12 || cfg.MaxMonths != 14 {
		t.Fatalf("unexpected month range defaults %+v", cfg.MonthRangeConfig)
	}
}

func TestLoadAPIRejectsBadPolicy(t *testing.T) {
	setEnv(t, map[string]string{
		"DB_DSN":               "postgres://localhost/db",
		"INTERNAL_API_KEY":     "secret",
		"REMINDER_RULE_POLICY": "random",
	})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on invalid policy")
		}
	}()
	LoadAPI()
}

func TestEngineLocation(t *testing.T) {
	loc, err := EngineConfig{}.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("empty zone should be UTC, got %v %v", loc, err)
	}
	if _, err := (EngineConfig{BusinessTimezone: "Mars/Olympus"}).Location(); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
