package domain

import (
	"fmt"
	"time"
)

// FindModelByName searches for a provider definition by its id.
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.AI.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// HasModel checks if a provider with the given id exists in the configuration.
func (c *Config) HasModel(name string) bool {
	_, exists := c.FindModelByName(name)
	return exists
}

// AddModel adds a new provider definition.
// Returns an error if a provider with the same id already exists.
func (c *Config) AddModel(model ModelDefinition) error {
	if c.HasModel(model.Name) {
		return fmt.Errorf("model with name %s already exists", model.Name)
	}
	c.AI.Models = append(c.AI.Models, model)
	return nil
}

// RemoveModel removes a provider definition by id and clears the preferred
// provider when it pointed at the removed entry.
func (c *Config) RemoveModel(name string) error {
	indexToRemove := -1
	for i, model := range c.AI.Models {
		if model.Name == name {
			indexToRemove = i
			break
		}
	}
	if indexToRemove == -1 {
		return fmt.Errorf("model %s not found", name)
	}

	c.AI.Models = append(c.AI.Models[:indexToRemove], c.AI.Models[indexToRemove+1:]...)
	if c.AI.Provider == name {
		c.AI.Provider = ""
	}
	return nil
}

// SetPreferredProvider pins the provider the registry should select first.
func (c *Config) SetPreferredProvider(name string) error {
	if !c.HasModel(name) {
		return fmt.Errorf("cannot set provider: model %s does not exist", name)
	}
	c.AI.Provider = name
	return nil
}

// ProviderOrder returns the configured provider ids in declaration order.
func (c *Config) ProviderOrder() []string {
	ids := make([]string, 0, len(c.AI.Models))
	for _, model := range c.AI.Models {
		ids = append(ids, model.Name)
	}
	return ids
}

// ConnectTimeout returns the SSH readiness timeout for pooled sessions.
func (c *Config) ConnectTimeout() time.Duration {
	return secondsOr(c.SSH.ConnectTimeoutSeconds, DefaultConnectTimeout)
}

// TestTimeout returns the SSH readiness timeout for connectivity tests.
func (c *Config) TestTimeout() time.Duration {
	return secondsOr(c.SSH.TestTimeoutSeconds, DefaultTestTimeout)
}

// HealthTimeout returns the cap on the health probe round-trip.
func (c *Config) HealthTimeout() time.Duration {
	return secondsOr(c.SSH.HealthTimeoutSeconds, HealthCheckTimeout)
}

// IdleTimeout returns how long an unused pooled session survives.
func (c *Config) IdleTimeout() time.Duration {
	return secondsOr(c.SSH.IdleTimeoutSeconds, IdleTimeout)
}

// SweepInterval returns how often idle sessions are evicted.
func (c *Config) SweepInterval() time.Duration {
	return secondsOr(c.SSH.SweepIntervalSeconds, SweepInterval)
}

// MaxConnectAttempts returns the number of dial attempts per connect.
func (c *Config) MaxConnectAttempts() int {
	if c.SSH.MaxAttempts <= 0 {
		return MaxConnectAttempts
	}
	return c.SSH.MaxAttempts
}

// ConnectBaseDelay returns the first backoff delay.
func (c *Config) ConnectBaseDelay() time.Duration {
	if c.SSH.BaseDelayMillis <= 0 {
		return ConnectBaseDelay
	}
	return time.Duration(c.SSH.BaseDelayMillis) * time.Millisecond
}

// KeepaliveInterval returns the SSH keepalive period.
func (c *Config) KeepaliveInterval() time.Duration {
	return secondsOr(c.SSH.KeepaliveIntervalSeconds, KeepaliveInterval)
}

// KeepaliveCountMax returns the number of tolerated missed keepalives.
func (c *Config) KeepaliveCountMax() int {
	if c.SSH.KeepaliveCountMax <= 0 {
		return KeepaliveCountMax
	}
	return c.SSH.KeepaliveCountMax
}

// ReconnectAttempts returns the visible reconnect budget of a running execution.
func (c *Config) ReconnectAttempts() int {
	if c.Execution.ReconnectAttempts <= 0 {
		return ReconnectAttempts
	}
	return c.Execution.ReconnectAttempts
}

// ReconnectInterval returns the wait between reconnect attempts.
func (c *Config) ReconnectInterval() time.Duration {
	return secondsOr(c.Execution.ReconnectIntervalSeconds, ReconnectInterval)
}

// AITimeout returns the HTTP timeout for AI requests.
func (c *Config) AITimeout() time.Duration {
	return secondsOr(c.AI.TimeoutSeconds, DefaultHTTPClientTimeout)
}

// ValidateConsistency checks the internal consistency of the configuration.
func (c *Config) ValidateConsistency() error {
	seen := make(map[string]bool, len(c.AI.Models))
	for _, model := range c.AI.Models {
		if model.Name == "" {
			return fmt.Errorf("model without a name")
		}
		if seen[model.Name] {
			return fmt.Errorf("model %s declared twice", model.Name)
		}
		seen[model.Name] = true
	}
	if c.AI.Provider != "" && !c.HasModel(c.AI.Provider) {
		return fmt.Errorf("preferred provider %s does not exist in models list", c.AI.Provider)
	}
	return nil
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
