package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.MQTTHost != "localhost:1883" {
		t.Errorf("MQTTHost = %q, want default", cfg.MQTTHost)
	}
	if cfg.UpdateTickInterval != 125*time.Millisecond {
		t.Errorf("UpdateTickInterval = %s, want 125ms", cfg.UpdateTickInterval)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("FLEETD_MQTT_HOST", "broker.example:8883")
	t.Setenv("FLEETD_UPDATE_TICK", "250ms")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.MQTTHost != "broker.example:8883" {
		t.Errorf("MQTTHost = %q, want override", cfg.MQTTHost)
	}
	if cfg.UpdateTickInterval != 250*time.Millisecond {
		t.Errorf("UpdateTickInterval = %s, want 250ms", cfg.UpdateTickInterval)
	}
}

func TestLoadFromEnvRejectsBadTick(t *testing.T) {
	t.Setenv("FLEETD_UPDATE_TICK", "not-a-duration")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for invalid FLEETD_UPDATE_TICK")
	}
}

func TestLoadFromEnvRejectsNonPositiveTick(t *testing.T) {
	t.Setenv("FLEETD_UPDATE_TICK", "0s")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for non-positive FLEETD_UPDATE_TICK")
	}
}

func TestLoadFromEnvEmptyMQTTHostFallsBackToDefault(t *testing.T) {
	t.Setenv("FLEETD_MQTT_HOST", "")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.MQTTHost != "localhost:1883" {
		t.Fatalf("MQTTHost = %q, want default", cfg.MQTTHost)
	}
}
