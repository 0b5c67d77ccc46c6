// Package resources loads account definitions from a directory and keeps
// them in sync with the identity store while the server runs.
package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
)

// AccountDefinition is the content of one account file. Secret is a bcrypt
// hash, never a plain password.
type AccountDefinition struct {
	Username string `yaml:"username"`
	Secret   string `yaml:"secret"`
}

// Provisioner creates or updates an identity from a hashed secret.
type Provisioner interface {
	ProvisionAccount(ctx context.Context, handle string, secretHash []byte) error
}

// LoadAccounts provisions every *.yaml / *.yml file in dir and returns how
// many succeeded. Broken files are logged and skipped.
func LoadAccounts(
	ctx context.Context,
	dir string,
	p Provisioner,
) (
	int,
	error,
) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read accounts dir: %w", err)
	}

	loaded := 0
	seen := make(map[string]string)
	for _, file := range files {
		if !file.Type().IsRegular() || !isYAML(file.Name()) {
			continue
		}
		name := file.Name()

		def, err := loadAccount(filepath.Join(dir, name))
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("accounts.load_failed")
			continue
		}
		if prev, ok := seen[def.Username]; ok {
			log.Ctx(ctx).Warn().
				Str("file", name).
				Str("previous", prev).
				Str("username", def.Username).
				Msg("accounts.duplicate_definition")
		}
		seen[def.Username] = name

		if err := p.ProvisionAccount(ctx, def.Username, []byte(def.Secret)); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("accounts.provision_failed")
			continue
		}
		loaded++
	}

	log.Ctx(ctx).Info().Str("dir", dir).Int("count", loaded).Msg("accounts.loaded")
	return loaded, nil
}

// WatchAccounts loads dir once and reloads it whenever its contents change,
// until ctx is done. Removing a file does not remove the identity.
func WatchAccounts(
	ctx context.Context,
	dir string,
	p Provisioner,
) error {
	if _, err := LoadAccounts(ctx, dir, p); err != nil {
		return err
	}

	err := watchDir(ctx, dir, func() {
		if _, err := LoadAccounts(ctx, dir, p); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("accounts.reload_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start accounts watcher: %w", err)
	}
	return nil
}

func loadAccount(path string) (*AccountDefinition, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read account definition: %w", err)
	}

	def := &AccountDefinition{}
	if err := yaml.Unmarshal(file, def); err != nil {
		return nil, fmt.Errorf("failed to parse yaml of '%s': %w", path, err)
	}
	if def.Username == "" || def.Secret == "" {
		return nil, fmt.Errorf("account definition '%s' needs username and secret", path)
	}
	return def, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
