package orchestrator

import (
	"context"
	"regexp"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
)

const distroProbe = "cat /etc/os-release 2>/dev/null || cat /etc/redhat-release 2>/dev/null || cat /etc/alpine-release 2>/dev/null || uname -a"

// distroNames is checked in order against the lowercased probe output.
var distroNames = []struct {
	needles []string
	name    string
}{
	{[]string{"alpine"}, "Alpine Linux"},
	{[]string{"ubuntu"}, "Ubuntu"},
	{[]string{"debian"}, "Debian"},
	{[]string{"centos"}, "CentOS"},
	{[]string{"rocky"}, "Rocky Linux"},
	{[]string{"almalinux", "alma linux"}, "AlmaLinux"},
	{[]string{"fedora"}, "Fedora"},
	{[]string{"rhel", "red hat"}, "RHEL"},
	{[]string{"arch linux", "id=arch"}, "Arch Linux"},
	{[]string{"opensuse", "suse"}, "openSUSE"},
	{[]string{"amazon"}, "Amazon Linux"},
}

var prettyName = regexp.MustCompile(`(?im)^pretty_name="?([^"\n]+)"?`)

// DistroFromOutput maps os-release style output to a distribution name.
func DistroFromOutput(output string) string {
	lower := strings.ToLower(output)
	for _, entry := range distroNames {
		for _, needle := range entry.needles {
			if strings.Contains(lower, needle) {
				return entry.name
			}
		}
	}
	if m := prettyName.FindStringSubmatch(output); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	return domain.UnknownDistro
}

func (s *Service) detectDistro(ctx context.Context, serverID string, creds domain.ServerCredentials) string {
	result := s.connections.ExecuteCommand(ctx, serverID, distroProbe, creds)
	if !result.Success || result.Stdout == "" {
		s.logger.Warn("distro probe failed", map[string]interface{}{
			"server_id": serverID,
			"stderr":    result.Stderr,
		})
		return domain.UnknownDistro
	}
	return DistroFromOutput(result.Stdout)
}
