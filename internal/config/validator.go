package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/energizer-project/fragline/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	sd := cfg.GetServerData()
	ad := cfg.GetApplicationData()
	validateServerData(&sd, result)
	validateApplicationData(&ad, result)

	if ad.API.Enabled && ad.API.Port == sd.Port {
		result.AddError("ports", "port conflict detected: game and api ports must differ")
	}

	return result
}

func validateServerData(data *ServerData, result *ValidationResult) {
	if strings.TrimSpace(data.Hostname) == "" {
		result.AddError("server_data.hostname", "hostname is required")
	}
	if strings.TrimSpace(data.MapName) == "" {
		result.AddError("server_data.map", "map name is required")
	} else if len(data.MapName) >= protocol.MaxQPath {
		result.AddError("server_data.map", fmt.Sprintf("map name longer than %d characters", protocol.MaxQPath-1))
	}
	if strings.ContainsAny(data.Gamedir, `/\:`) || strings.Contains(data.Gamedir, "..") {
		result.AddError("server_data.gamedir", "gamedir must be a single directory name")
	}

	validatePort(data.Port, "server_data.port", result)

	if data.MaxClients < 1 {
		result.AddError("server_data.max_clients", "must allow at least 1 client")
	}
	if data.MaxClients > 256 {
		result.AddWarning("server_data.max_clients",
			fmt.Sprintf("high client count (%d) exceeds what the dialects were built for", data.MaxClients))
	}

	if data.MaxPacketLen < 576 || data.MaxPacketLen > protocol.MaxPacketLen {
		result.AddError("server_data.max_packet_len",
			fmt.Sprintf("must be between 576 and %d", protocol.MaxPacketLen))
	}

	if data.FrameRate < 1 || data.FrameRate > 60 {
		result.AddError("server_data.frame_rate", "frame rate must be between 1 and 60")
	}
	if data.ClientTimeout < 1 {
		result.AddError("server_data.client_timeout_sec", "client timeout must be at least 1 second")
	} else if data.ClientTimeout < 30 {
		result.AddWarning("server_data.client_timeout_sec", "clients loading a map may time out")
	}
	if data.ZombieTimeout < 1 {
		result.AddWarning("server_data.zombie_timeout_sec", "zombies are freed on the next frame")
	}
	if data.CompressionLevel < -1 || data.CompressionLevel > 9 {
		result.AddError("server_data.compression_level", "compression level must be between -1 and 9")
	}

	if strings.ContainsAny(data.ForceReconnect, ";\n\"") {
		result.AddError("server_data.force_reconnect", "reconnect command must be a single console command")
	}
	for _, cmd := range append(append([]string(nil), data.ConnectStuff...), data.BeginStuff...) {
		if len(cmd) >= protocol.MaxStringChars {
			result.AddError("server_data.stuff", "stuffed command too long")
		}
	}

	if data.AssetDirectory != "" {
		if _, err := os.Stat(data.AssetDirectory); os.IsNotExist(err) {
			result.AddWarning("server_data.asset_directory",
				fmt.Sprintf("directory does not exist: %s", data.AssetDirectory))
		}
	}

	if data.Downloads.Maps < 0 || data.Downloads.Maps > 2 {
		result.AddError("server_data.downloads.maps", "maps level must be 0, 1 or 2")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.Token == "" && !data.Security.AuthDisabled {
			result.AddError("application_data.api.token", "API token is required when auth is enabled")
		}
	}

	validateTimers(&data.Timers, result)

	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}
	if data.Database.AuditRetentionDays < 1 {
		result.AddError("application_data.database.audit_retention_days",
			"retention days must be at least 1")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// Security
	if data.Security.TLSEnabled {
		if strings.TrimSpace(data.Security.TLSCertFile) == "" {
			result.AddError("application_data.security.tls_cert_file",
				"TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(data.Security.TLSKeyFile) == "" {
			result.AddError("application_data.security.tls_key_file",
				"TLS key file is required when TLS is enabled")
		}
	}

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if data.Security.AuthDisabled && data.API.Enabled {
		result.AddWarning("application_data.security.auth_disabled",
			"admin API accepts unauthenticated requests")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.StatsInterval < 5 {
		result.AddWarning("timers.stats_interval_sec",
			"stats interval less than 5s may flood the log")
	}
	if timers.LagCheckInterval < 5 {
		result.AddWarning("timers.lag_check_interval_sec",
			"lag check interval less than 5s may flood the log")
	}
	if timers.HealthInterval < 0 {
		result.AddError("timers.health_check_interval_sec", "health check interval cannot be negative")
	}
	if _, err := time.Parse("15:04", timers.AuditPurgeTime); err != nil {
		result.AddError("timers.audit_purge_time", "purge time must be HH:MM")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a UDP port is available for binding.
func IsPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
