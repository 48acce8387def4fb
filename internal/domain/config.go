package domain

// Config mirrors ~/.opsai/config.yaml.
type Config struct {
	ConfigFormatVersion string            `yaml:"config_format_version"`
	Server              ServerSettings    `yaml:"server"`
	SSH                 SSHSettings       `yaml:"ssh"`
	Execution           ExecutionSettings `yaml:"execution"`
	AI                  AISettings        `yaml:"ai"`
	Security            SecuritySettings  `yaml:"security"`
	Storage             StorageSettings   `yaml:"storage"`
	Inventory           InventorySettings `yaml:"inventory"`
	Logging             LoggingSettings   `yaml:"logging"`
}

// ServerSettings configures the HTTP and WebSocket listener.
type ServerSettings struct {
	Listen           string   `yaml:"listen"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	ActionsPerSecond float64  `yaml:"actions_per_second"`
	ActionBurst      int      `yaml:"action_burst"`
}

// SSHSettings tunes the connection pool.
type SSHSettings struct {
	ConnectTimeoutSeconds    int `yaml:"connect_timeout"`
	TestTimeoutSeconds       int `yaml:"test_timeout"`
	HealthTimeoutSeconds     int `yaml:"health_timeout"`
	IdleTimeoutSeconds       int `yaml:"idle_timeout"`
	SweepIntervalSeconds     int `yaml:"sweep_interval"`
	MaxAttempts              int `yaml:"max_attempts"`
	BaseDelayMillis          int `yaml:"base_delay_ms"`
	KeepaliveIntervalSeconds int `yaml:"keepalive_interval"`
	KeepaliveCountMax        int `yaml:"keepalive_count_max"`
}

// ExecutionSettings controls the mid-run reconnect protocol.
type ExecutionSettings struct {
	ReconnectAttempts        int `yaml:"reconnect_attempts"`
	ReconnectIntervalSeconds int `yaml:"reconnect_interval"`
}

// AISettings lists the AI providers and the operator's preferred one.
type AISettings struct {
	Provider       string            `yaml:"provider"`
	TimeoutSeconds int               `yaml:"timeout"`
	Models         []ModelDefinition `yaml:"models"`
}

// SecuritySettings points at optional extra validator rules.
type SecuritySettings struct {
	RulesFile string `yaml:"rules_file"`
}

// StorageSettings locates the execution database.
type StorageSettings struct {
	Path string `yaml:"path"`
}

// InventorySettings locates the server inventory.
type InventorySettings struct {
	ServersFile   string `yaml:"servers_file"`
	SSHConfigFile string `yaml:"ssh_config_file"`
}

// LoggingSettings selects log verbosity and format.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
