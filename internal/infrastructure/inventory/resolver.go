// Package inventory resolves server ids to connection credentials from a
// YAML inventory file, falling back to ~/.ssh/config for anything unset.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	sshconfig "github.com/kevinburke/ssh_config"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/filesystem"
	"github.com/doeshing/opsai/internal/ports"
)

// ServerRecord is one entry of servers.yaml. Secrets may be given inline or,
// preferably, through environment variables.
type ServerRecord struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port,omitempty"`
	Username       string          `yaml:"username,omitempty"`
	Auth           domain.AuthKind `yaml:"auth,omitempty"`
	Password       string          `yaml:"password,omitempty"`
	PasswordEnv    string          `yaml:"password_env,omitempty"`
	PrivateKeyPath string          `yaml:"private_key_path,omitempty"`
	Passphrase     string          `yaml:"passphrase,omitempty"`
	PassphraseEnv  string          `yaml:"passphrase_env,omitempty"`
	OwnerID        string          `yaml:"owner_id"`
}

// File is the servers.yaml document.
type File struct {
	Servers []ServerRecord `yaml:"servers"`
}

// Resolver implements ports.CredentialResolver.
type Resolver struct {
	servers   map[string]ServerRecord
	sshConfig *sshconfig.Config

	readFile func(string) ([]byte, error)
	getenv   func(string) string
}

// Load reads the inventory at serversPath and the optional ssh config at
// sshConfigPath. A missing ssh config is not an error; a missing inventory
// yields an empty resolver.
func Load(serversPath, sshConfigPath string) (*Resolver, error) {
	var file File
	data, err := os.ReadFile(filesystem.ExpandPath(serversPath))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse inventory %s: %w", serversPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read inventory %s: %w", serversPath, err)
	}

	var cfg *sshconfig.Config
	if sshConfigPath != "" {
		raw, err := os.ReadFile(filesystem.ExpandPath(sshConfigPath))
		switch {
		case err == nil:
			cfg, err = sshconfig.Decode(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("parse ssh config %s: %w", sshConfigPath, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read ssh config %s: %w", sshConfigPath, err)
		}
	}

	return New(file.Servers, cfg)
}

// New builds a resolver from records. cfg may be nil.
func New(records []ServerRecord, cfg *sshconfig.Config) (*Resolver, error) {
	servers := make(map[string]ServerRecord, len(records))
	for _, record := range records {
		if record.ID == "" {
			return nil, errors.New("inventory entry without id")
		}
		if _, dup := servers[record.ID]; dup {
			return nil, fmt.Errorf("duplicate server id %q", record.ID)
		}
		if record.Host == "" {
			return nil, fmt.Errorf("server %q has no host", record.ID)
		}
		servers[record.ID] = record
	}
	return &Resolver{
		servers:   servers,
		sshConfig: cfg,
		readFile:  os.ReadFile,
		getenv:    os.Getenv,
	}, nil
}

// WithEnv replaces the environment lookup used for *_env secrets.
func (r *Resolver) WithEnv(getenv func(string) string) *Resolver {
	r.getenv = getenv
	return r
}

// Resolve returns the server and its credentials after the ownership check.
// Admins may resolve any server.
func (r *Resolver) Resolve(_ context.Context, user domain.User, serverID string) (domain.Server, domain.ServerCredentials, error) {
	record, ok := r.servers[serverID]
	if !ok {
		return domain.Server{}, domain.ServerCredentials{}, fmt.Errorf("server %s: %w", serverID, domain.ErrNotFound)
	}
	if !user.CanAccess(record.OwnerID) {
		return domain.Server{}, domain.ServerCredentials{}, fmt.Errorf("server %s: %w", serverID, domain.ErrForbidden)
	}

	creds, err := r.credentials(record)
	if err != nil {
		return domain.Server{}, domain.ServerCredentials{}, err
	}
	return r.server(record, creds), creds, nil
}

// List returns the servers user may operate on, sorted by id.
func (r *Resolver) List(_ context.Context, user domain.User) ([]domain.Server, error) {
	servers := []domain.Server{}
	for _, record := range r.servers {
		if !user.CanAccess(record.OwnerID) {
			continue
		}
		servers = append(servers, r.server(record, r.endpoint(record)))
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers, nil
}

func (r *Resolver) server(record ServerRecord, creds domain.ServerCredentials) domain.Server {
	name := record.Name
	if name == "" {
		name = record.ID
	}
	return domain.Server{
		ID:       record.ID,
		Name:     name,
		Host:     creds.Host,
		Port:     creds.Port,
		Username: creds.Username,
		OwnerID:  record.OwnerID,
	}
}

// endpoint applies ssh config fallbacks for host, port and user. The record
// host doubles as the ssh config alias.
func (r *Resolver) endpoint(record ServerRecord) domain.ServerCredentials {
	creds := domain.ServerCredentials{
		Host:     record.Host,
		Port:     record.Port,
		Username: record.Username,
	}
	if hostName := r.lookup(record.Host, "HostName"); hostName != "" {
		creds.Host = hostName
	}
	if creds.Port == 0 {
		if port, err := strconv.Atoi(r.lookup(record.Host, "Port")); err == nil {
			creds.Port = port
		}
	}
	if creds.Port == 0 {
		creds.Port = 22
	}
	if creds.Username == "" {
		creds.Username = r.lookup(record.Host, "User")
	}
	return creds
}

func (r *Resolver) credentials(record ServerRecord) (domain.ServerCredentials, error) {
	creds := r.endpoint(record)
	if creds.Username == "" {
		return creds, fmt.Errorf("server %s has no username", record.ID)
	}

	keyPath := record.PrivateKeyPath
	if keyPath == "" && record.Auth != domain.AuthPassword {
		keyPath = r.lookup(record.Host, "IdentityFile")
	}

	switch {
	case record.Auth == domain.AuthPassword || (record.Auth == "" && keyPath == ""):
		creds.AuthKind = domain.AuthPassword
		creds.Password = r.secret(record.Password, record.PasswordEnv)
		if creds.Password == "" {
			return creds, fmt.Errorf("server %s has no password", record.ID)
		}
	default:
		if keyPath == "" {
			return creds, fmt.Errorf("server %s has no private key", record.ID)
		}
		key, err := r.readFile(filesystem.ExpandPath(keyPath))
		if err != nil {
			return creds, fmt.Errorf("read private key for %s: %w", record.ID, err)
		}
		creds.AuthKind = domain.AuthKey
		creds.PrivateKey = string(key)
		creds.Passphrase = r.secret(record.Passphrase, record.PassphraseEnv)
	}
	return creds, nil
}

func (r *Resolver) secret(inline, envVar string) string {
	if envVar != "" {
		if value := r.getenv(envVar); value != "" {
			return value
		}
	}
	return inline
}

func (r *Resolver) lookup(alias, key string) string {
	if r.sshConfig == nil {
		return ""
	}
	value, err := r.sshConfig.Get(alias, key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

var _ ports.CredentialResolver = (*Resolver)(nil)
