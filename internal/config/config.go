// Package config loads fleetd's environment-variable configuration,
// following the validate-with-defaults style used throughout the
// provisioner's env loaders.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds everything fleetd needs to connect to the bus, the
// inventory source, and the device-class adapters.
type Config struct {
	// MQTTHost is the host:port of the MQTT broker.
	MQTTHost string
	// MQTTClientID identifies this daemon's bus session.
	MQTTClientID string

	// APIBaseURL is the inventory source's HTTPS base URL.
	APIBaseURL string
	// APIUsername / APIPassword authenticate against /auth/jwt/login.
	APIUsername string
	APIPassword string
	// APIRootCAPath optionally pins a custom CA for the inventory TLS conn.
	APIRootCAPath string

	// PJLinkPassword is sent to every PJLink-speaking projector.
	PJLinkPassword string
	// SNMPCommunity authenticates SNMP get/set against every PDU.
	SNMPCommunity string

	// BrightSignUsername / BrightSignPassword are the Digest-auth
	// credentials every BrightSign player's local API is provisioned
	// with; unlike PJLink/SNMP these are fixed device-firmware
	// defaults, not per-deployment secrets, but are still overridable.
	BrightSignUsername string
	BrightSignPassword string

	// WebOSCredentialPath is the on-disk JSON credential store.
	WebOSCredentialPath string

	// AuditDBPath is the SQLite file backing the command audit log.
	AuditDBPath string

	// HTTPAddr is where /healthz and /metrics are served.
	HTTPAddr string

	// UpdateTickInterval is the manager's top-level device update loop
	// period (125ms by default).
	UpdateTickInterval time.Duration

	// LogLevel is passed straight to internal/logging.New.
	LogLevel string
}

// Default returns the configuration used when no environment override is
// present.
func Default() Config {
	return Config{
		MQTTHost:            "localhost:1883",
		MQTTClientID:        "fleetd",
		APIBaseURL:          "https://inventory.internal",
		BrightSignUsername:  "admin",
		BrightSignPassword:  "avm",
		WebOSCredentialPath: "/var/lib/fleetd/weboscreds.json",
		AuditDBPath:         "/var/lib/fleetd/audit.db",
		HTTPAddr:            ":9090",
		UpdateTickInterval:  125 * time.Millisecond,
		LogLevel:            "info",
	}
}

// LoadFromEnv overlays environment variables onto Default(), validating
// anything with a non-string shape.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("FLEETD_MQTT_HOST"); v != "" {
		cfg.MQTTHost = v
	}
	if v := os.Getenv("FLEETD_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	if v := os.Getenv("FLEETD_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("FLEETD_API_USERNAME"); v != "" {
		cfg.APIUsername = v
	}
	if v := os.Getenv("FLEETD_API_PASSWORD"); v != "" {
		cfg.APIPassword = v
	}
	if v := os.Getenv("FLEETD_API_ROOT_CA"); v != "" {
		cfg.APIRootCAPath = v
	}
	if v := os.Getenv("FLEETD_PJLINK_PASSWORD"); v != "" {
		cfg.PJLinkPassword = v
	}
	if v := os.Getenv("FLEETD_SNMP_COMMUNITY"); v != "" {
		cfg.SNMPCommunity = v
	}
	if v := os.Getenv("FLEETD_BRIGHTSIGN_USERNAME"); v != "" {
		cfg.BrightSignUsername = v
	}
	if v := os.Getenv("FLEETD_BRIGHTSIGN_PASSWORD"); v != "" {
		cfg.BrightSignPassword = v
	}
	if v := os.Getenv("FLEETD_WEBOS_CRED_PATH"); v != "" {
		cfg.WebOSCredentialPath = v
	}
	if v := os.Getenv("FLEETD_AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("FLEETD_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FLEETD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLEETD_UPDATE_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid FLEETD_UPDATE_TICK: %w", err)
		}
		if d <= 0 {
			return cfg, fmt.Errorf("FLEETD_UPDATE_TICK must be positive, got %s", d)
		}
		cfg.UpdateTickInterval = d
	}

	if cfg.MQTTHost == "" {
		return cfg, fmt.Errorf("FLEETD_MQTT_HOST must not be empty")
	}
	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("FLEETD_API_BASE_URL must not be empty")
	}

	return cfg, nil
}

// envBool is kept for adapters that gain boolean toggles later; unused
// today but mirrors the provisioner config's strconv.ParseBool idiom.
func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return b, nil
}
