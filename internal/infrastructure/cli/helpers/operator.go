package helpers

import (
	"os"
	"os/user"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
)

// EnvOperator overrides the identity used by local commands.
const EnvOperator = "OPSAI_USER"

// Operator is the admin identity local CLI commands act as.
func Operator() domain.User {
	return domain.User{ID: operatorName(), Role: domain.RoleAdmin}
}

func operatorName() string {
	if name := strings.TrimSpace(os.Getenv(EnvOperator)); name != "" {
		return name
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "operator"
}
