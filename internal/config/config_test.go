package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := fromViper(v)
	if err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Dispatcher.MinReportPeriod != 3*time.Second {
		t.Errorf("expected 3s minimum report period, got %s", cfg.Dispatcher.MinReportPeriod)
	}
	if cfg.Database.URL != "" || cfg.Redis.URL != "" || cfg.RabbitMQ.URL != "" {
		t.Error("external services should be disabled by default")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("POOL_SIZE", "9")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "250ms")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Size != 9 {
		t.Errorf("expected pool size 9, got %d", cfg.Pool.Size)
	}
	if cfg.Scheduler.TickInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms tick, got %s", cfg.Scheduler.TickInterval)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("unexpected redis url %q", cfg.Redis.URL)
	}
	if !cfg.Tracing.Enabled {
		t.Error("expected tracing enabled")
	}
}

func TestValidate(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("POOL_SIZE", 0)
	v.Set("API_PORT", 70000)

	_, err := fromViper(v)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"POOL_SIZE", "API_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}
