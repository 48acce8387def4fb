package commands

// Error messages
const (
	ErrConfigLoaderUnavailable  = "config loader unavailable"
	ErrDoctorServiceUnavailable = "doctor service unavailable"
	ErrStoreUnavailable         = "execution store unavailable"
)

// Success messages
const (
	MsgConfigurationValid  = "Configuration valid"
	MsgNoConfigDifferences = "No differences from default configuration."
	MsgNoExecutions        = "No executions recorded yet."
	MsgNoServers           = "No servers in the inventory."
)
