package domain

// Plan is the planner's structured answer.
type Plan struct {
	Objective            string   `json:"objective"`
	Steps                []string `json:"steps"`
	Risks                []string `json:"risks"`
	EstimatedTime        string   `json:"estimatedTime"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
}

// CommandSet is the command generator's structured answer.
type CommandSet struct {
	Commands    []string `json:"commands"`
	Explanation string   `json:"explanation"`
	Warnings    []string `json:"warnings"`
}

// SecurityReview is the AI's semantic second opinion on a command list.
type SecurityReview struct {
	IsApproved      bool     `json:"isApproved"`
	RiskLevel       string   `json:"riskLevel"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// Analysis summarizes an execution run for humans.
type Analysis struct {
	Success   bool     `json:"success"`
	Summary   string   `json:"summary"`
	Details   string   `json:"details"`
	NextSteps []string `json:"nextSteps"`
	Errors    []string `json:"errors"`
}

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUserMsg   = "user"
	RoleAssistant = "assistant"
)

// Message follows the role/content pair required by most chat APIs.
type Message struct {
	Role    string `yaml:"role" json:"role"`
	Content string `yaml:"content" json:"content"`
}

// CompletionOptions tunes a single completion call.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// ProviderStatus describes a registered AI provider.
type ProviderStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	Configured bool   `json:"configured"`
	Active     bool   `json:"active"`
}
