package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
)

// Validate ensures config structure is consistent.
func Validate(cfg domain.Config) error {
	if len(cfg.AI.Models) == 0 {
		return errors.New("at least one AI provider must be configured")
	}
	if err := cfg.ValidateConsistency(); err != nil {
		return err
	}
	for _, model := range cfg.AI.Models {
		if err := validateModel(model); err != nil {
			return err
		}
	}
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateSSH(cfg.SSH); err != nil {
		return err
	}
	if err := validateExecution(cfg.Execution); err != nil {
		return err
	}
	if err := validateLogging(cfg.Logging); err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path must be set")
	}
	return nil
}

func validateModel(model domain.ModelDefinition) error {
	switch model.GetKind() {
	case domain.ProviderKindOpenAI, domain.ProviderKindHTTP:
	default:
		return fmt.Errorf("ai.models[%s].kind must be openai|http, got %s", model.Name, model.Kind)
	}
	if model.Endpoint == "" && model.EndpointEnvVar == "" {
		return fmt.Errorf("ai.models[%s] needs endpoint or endpoint_env_var", model.Name)
	}
	if model.ModelID == "" && model.ModelEnvVar == "" {
		return fmt.Errorf("ai.models[%s] needs model_id or model_env_var", model.Name)
	}
	if model.AuthEnvVar == "" && !model.KeyOptional {
		return fmt.Errorf("ai.models[%s] needs auth_env_var unless key_optional is set", model.Name)
	}
	return nil
}

func validateServer(server domain.ServerSettings) error {
	if _, _, err := net.SplitHostPort(server.Listen); err != nil {
		return fmt.Errorf("server.listen invalid: %w", err)
	}
	if server.ActionsPerSecond < 0 {
		return fmt.Errorf("server.actions_per_second must be >= 0")
	}
	if server.ActionBurst < 0 {
		return fmt.Errorf("server.action_burst must be >= 0")
	}
	return nil
}

func validateSSH(ssh domain.SSHSettings) error {
	fields := map[string]int{
		"connect_timeout":     ssh.ConnectTimeoutSeconds,
		"test_timeout":        ssh.TestTimeoutSeconds,
		"health_timeout":      ssh.HealthTimeoutSeconds,
		"idle_timeout":        ssh.IdleTimeoutSeconds,
		"sweep_interval":      ssh.SweepIntervalSeconds,
		"max_attempts":        ssh.MaxAttempts,
		"base_delay_ms":       ssh.BaseDelayMillis,
		"keepalive_interval":  ssh.KeepaliveIntervalSeconds,
		"keepalive_count_max": ssh.KeepaliveCountMax,
	}
	for name, value := range fields {
		if value < 0 {
			return fmt.Errorf("ssh.%s must be >= 0", name)
		}
	}
	if ssh.MaxAttempts > 10 {
		return fmt.Errorf("ssh.max_attempts must be <= 10")
	}
	return nil
}

func validateExecution(exec domain.ExecutionSettings) error {
	if exec.ReconnectAttempts < 0 {
		return fmt.Errorf("execution.reconnect_attempts must be >= 0")
	}
	if exec.ReconnectIntervalSeconds < 0 {
		return fmt.Errorf("execution.reconnect_interval must be >= 0")
	}
	return nil
}

func validateLogging(logging domain.LoggingSettings) error {
	switch strings.ToLower(logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %s", logging.Level)
	}
	switch strings.ToLower(logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text|json, got %s", logging.Format)
	}
	return nil
}
