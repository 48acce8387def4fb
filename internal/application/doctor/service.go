package doctor

import (
	"context"
	"fmt"

	appconfig "github.com/doeshing/opsai/internal/application/config"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// selfTest is a batch the validator must always block.
const selfTest = "rm -rf /"

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Validator      ports.CommandValidator
	Store          ports.Pinger
	Servers        ports.CredentialResolver
	Providers      ports.ProviderRegistry
}

// Run executes checks and returns a report.
func (s *Service) Run(ctx context.Context) (domain.DiagnosticReport, error) {
	var checks []domain.Diagnostic

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.DiagnosticReport{Checks: checks}, err
	}
	if err := appconfig.Validate(cfg); err != nil {
		checks = append(checks, fail("Config file", err.Error()))
	} else {
		checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d providers", cfg.ConfigFormatVersion, len(cfg.AI.Models))))
	}

	checks = append(checks, s.validatorCheck())

	if s.Store != nil {
		if err := s.Store.Ping(ctx); err != nil {
			checks = append(checks, fail("Execution store", err.Error()))
		} else {
			checks = append(checks, ok("Execution store", cfg.Storage.Path))
		}
	} else {
		checks = append(checks, warn("Execution store", "store not initialized"))
	}

	if s.Servers != nil {
		servers, err := s.Servers.List(ctx, domain.User{ID: "doctor", Role: domain.RoleAdmin})
		switch {
		case err != nil:
			checks = append(checks, fail("Inventory", err.Error()))
		case len(servers) == 0:
			checks = append(checks, warn("Inventory", fmt.Sprintf("no servers in %s", cfg.Inventory.ServersFile)))
		default:
			checks = append(checks, ok("Inventory", fmt.Sprintf("%d servers", len(servers))))
		}
	}

	if s.Providers != nil {
		checks = append(checks, providerCheck(s.Providers.List(ctx)))
	}

	return domain.DiagnosticReport{Checks: checks}, nil
}

func (s *Service) validatorCheck() domain.Diagnostic {
	if s.Validator == nil {
		return warn("Command validator", "validator not initialized")
	}
	if verdict := s.Validator.ValidateCommand(selfTest); verdict.IsValid {
		return fail("Command validator", fmt.Sprintf("%q was not blocked", selfTest))
	}
	return ok("Command validator", "rules loaded")
}

func providerCheck(statuses []domain.ProviderStatus) domain.Diagnostic {
	var configured []string
	active := ""
	for _, status := range statuses {
		if status.Configured {
			configured = append(configured, status.ID)
		}
		if status.Active {
			active = status.ID
		}
	}
	switch {
	case len(configured) == 0:
		return warn("AI providers", domain.ErrNoProvider.Error())
	case active == "":
		return warn("AI providers", fmt.Sprintf("configured %v but none reachable", configured))
	default:
		return ok("AI providers", fmt.Sprintf("active %s, configured %v", active, configured))
	}
}

func ok(name, details string) domain.Diagnostic {
	return domain.Diagnostic{Name: name, Status: domain.DiagnosticOK, Details: details}
}

func warn(name, details string) domain.Diagnostic {
	return domain.Diagnostic{Name: name, Status: domain.DiagnosticWarn, Details: details}
}

func fail(name, details string) domain.Diagnostic {
	return domain.Diagnostic{Name: name, Status: domain.DiagnosticError, Details: details}
}
