package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/zily-project/zily/internal/protocol"
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

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateSide(cfg.GetSide(), result)
	validateTransport(cfg.GetTransport(), result)
	validateApplicationData(cfg.GetApplicationData(), result)

	return result
}

func validateSide(side SideConfig, result *ValidationResult) {
	if strings.TrimSpace(side.Protocol) == "" {
		result.AddError("side.protocol", "protocol name is required")
	}
	if strings.Contains(side.Protocol, protocol.SideDelimiter) {
		result.AddError("side.protocol", fmt.Sprintf("must not contain %q", protocol.SideDelimiter))
	}
	if strings.Contains(side.Name, protocol.SideDelimiter) {
		result.AddError("side.name", fmt.Sprintf("must not contain %q", protocol.SideDelimiter))
	}
	if strings.TrimSpace(side.Name) == "" {
		result.AddWarning("side.name", "side name is empty, peers will not be able to tell sides apart")
	}
}

func validateTransport(t TransportConfig, result *ValidationResult) {
	switch t.Kind {
	case "tcp":
		host, port, err := net.SplitHostPort(t.Address)
		if err != nil {
			result.AddError("transport.address", fmt.Sprintf("invalid tcp address %q: %v", t.Address, err))
			break
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			result.AddError("transport.address", fmt.Sprintf("invalid port %q", port))
			break
		}
		validatePort(n, "transport.address", result)
		if host == "" || host == "0.0.0.0" || host == "::" {
			result.AddWarning("transport.address", "listening on all interfaces exposes sessions to the network")
		}
	case "unix":
		if strings.TrimSpace(t.Address) == "" {
			result.AddError("transport.address", "socket path is required for unix transport")
		}
	case "pipe":
		if strings.TrimSpace(t.PipeName) == "" {
			result.AddError("transport.pipe_name", "pipe name is required for pipe transport")
		}
	default:
		result.AddError("transport.kind", fmt.Sprintf("unknown transport kind %q (expected tcp, unix or pipe)", t.Kind))
	}

	if t.Plaintext {
		result.AddWarning("transport.plaintext", "payload encryption is disabled")
	}
	if t.HandshakeTimeout < 1 {
		result.AddWarning("transport.handshake_timeout_sec", "no handshake timeout, a stalled peer can hold a connection forever")
	}
	if t.IdleTimeout < 0 {
		result.AddError("transport.idle_timeout_sec", "idle timeout cannot be negative")
	}
}

func validateApplicationData(data ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.Security.APIToken == "" && data.API.Host != "127.0.0.1" && data.API.Host != "localhost" {
			result.AddWarning("application_data.security.api_token",
				"API is reachable from the network without a token")
		}
	}

	if data.Journal.Enabled {
		if strings.TrimSpace(data.Journal.Path) == "" {
			result.AddError("application_data.journal.path", "journal path is required when enabled")
		}
		if data.Journal.RetentionDays < 1 {
			result.AddError("application_data.journal.retention_days", "retention days must be at least 1")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

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

	if data.Timers.StaleCheckInterval < 5 {
		result.AddWarning("application_data.timers.stale_check_interval_sec",
			"stale check interval less than 5s may cause excessive work")
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
