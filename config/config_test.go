package config

import (
	"errors"
	"testing"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
)

func loadMap(t *testing.T, values map[string]interface{}) *koanf.Koanf {
	t.Helper()
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
		t.Fatalf("unable to load test configuration: %s", err)
	}
	return k
}

func minimalSettings() map[string]interface{} {
	return map[string]interface{}{
		"database.uri":        "postgres://localhost/cloudgw",
		"gateway.base.url":    "http://gateway:8000",
		"gateway.signing.key": "s3cret",
	}
}

func TestFromKoanfDefaults(t *testing.T) {
	s, err := FromKoanf(loadMap(t, minimalSettings()))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if s.GatewayTimeout != DefaultGatewayTimeout {
		t.Errorf("timeout: got %s, want %s", s.GatewayTimeout, DefaultGatewayTimeout)
	}
	if s.GatewayRetries != DefaultGatewayRetries {
		t.Errorf("retries: got %d, want %d", s.GatewayRetries, DefaultGatewayRetries)
	}
	if s.TokenTTL != time.Hour {
		t.Errorf("token ttl: got %s, want 1h", s.TokenTTL)
	}
	if s.CacheBackend != CacheBackendMemory {
		t.Errorf("cache backend: got %s, want %s", s.CacheBackend, CacheBackendMemory)
	}
	if s.ReconcileDelay != 10*time.Second {
		t.Errorf("reconcile delay: got %s, want 10s", s.ReconcileDelay)
	}
	if s.ListenPort != DefaultListenPort {
		t.Errorf("listen port: got %d, want %d", s.ListenPort, DefaultListenPort)
	}
}

func TestFromKoanfMissingSigningKey(t *testing.T) {
	settings := minimalSettings()
	delete(settings, "gateway.signing.key")

	_, err := FromKoanf(loadMap(t, settings))
	if !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
}

func TestFromKoanfValidation(t *testing.T) {
	tests := map[string]map[string]interface{}{
		"missing database uri":   {"database.uri": ""},
		"missing gateway url":    {"gateway.base.url": ""},
		"retry interval too low": {"gateway.retry.interval": "100ms"},
		"negative retries":       {"gateway.retries": -1},
		"unknown cache backend":  {"cache.backend": "redis"},
		"badger without a path":  {"cache.backend": "badger"},
	}

	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			settings := minimalSettings()
			for k, v := range overrides {
				settings[k] = v
			}
			if _, err := FromKoanf(loadMap(t, settings)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFromKoanfOverrides(t *testing.T) {
	settings := minimalSettings()
	settings["gateway.timeout"] = "5s"
	settings["gateway.retries"] = 5
	settings["cache.backend"] = "badger"
	settings["cache.path"] = "/tmp/cloudgw-cache"
	settings["cache.ttl.get"] = "15s"

	s, err := FromKoanf(loadMap(t, settings))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if s.GatewayTimeout != 5*time.Second {
		t.Errorf("timeout: got %s", s.GatewayTimeout)
	}
	if s.GatewayRetries != 5 {
		t.Errorf("retries: got %d", s.GatewayRetries)
	}
	if s.CachePath != "/tmp/cloudgw-cache" {
		t.Errorf("cache path: got %s", s.CachePath)
	}
	if s.GetTTL != 15*time.Second {
		t.Errorf("get ttl: got %s", s.GetTTL)
	}
}
