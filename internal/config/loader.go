package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, merges, verifies and validates the configuration rooted at
// configPath. A directory argument means <dir>/config.yaml.
//
// Files listed under include are merged after the file that names them, so
// later files override scalar values and extend lists and maps.
func Load(configPath string) (*Config, error) {
	rootPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(rootPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rootPath, err)
	}
	cfg.SourceFiles = []string{rootPath}

	visited := map[string]bool{rootPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(rootPath), visited); err != nil {
		return nil, err
	}

	if err := verifyAgainstManifest(filepath.Dir(rootPath), cfg.SourceFiles); err != nil {
		return nil, err
	}

	if err := applyConfigDefaults(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes a single YAML document without includes or checksum checks.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := applyConfigDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $CONDUIT_CONFIG, ~/.config/conduit, /etc/conduit, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("CONDUIT_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "conduit", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, p := range []string{"/etc/conduit/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $CONDUIT_CONFIG, ~/.config/conduit, /etc/conduit, ./config.yaml)")
}

// SourceFiles returns the absolute paths of the root config and every file
// reachable through include, root first.
func SourceFiles(configPath string) ([]string, error) {
	rootPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(rootPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rootPath, err)
	}
	cfg.SourceFiles = []string{rootPath}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(rootPath), map[string]bool{rootPath: true}); err != nil {
		return nil, err
	}
	return cfg.SourceFiles, nil
}

func resolveRoot(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		resolved := includePath
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolved)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		nested := included.Include
		included.Include = nil
		if err := mergo.Merge(cfg, included, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return fmt.Errorf("include[%d] (%s): merge failed: %w", i, includePath, err)
		}
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)

		if len(nested) > 0 {
			if err := loadIncludes(cfg, nested, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// applyConfigDefaults fills every zero field from Defaults.
func applyConfigDefaults(cfg *Config) error {
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
