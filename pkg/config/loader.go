package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// interpolationPattern matches ${key} references to environment-file
// variables. Keys are plain identifiers; lookup expressions like
// ${output vpc::VpcId} contain whitespace and are deliberately not matched,
// they are resolved at launch time instead of load time.
var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads environment files and the stack configuration, interpolates
// environment-file variables into the raw config text, decodes it with
// strict field checking, and validates the result.
func Load(configPath string, envPaths []string) (*Config, error) {
	vars := make(map[string]string)
	for _, path := range envPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read environment file %s: %w", path, err)
		}
		fileVars, err := ParseEnvFile(data)
		if err != nil {
			return nil, fmt.Errorf("environment file %s: %w", path, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	cfg, err := Parse(raw, vars)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Parse interpolates vars into the raw config text, decodes, and validates.
func Parse(raw []byte, vars map[string]string) (*Config, error) {
	interpolated, err := Interpolate(raw, vars)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(interpolated))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Vars = vars

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnvFile parses "key: value" lines. Blank lines and lines starting
// with # are ignored.
func ParseEnvFile(data []byte) (map[string]string, error) {
	vars := make(map[string]string)

	for i, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			return nil, fmt.Errorf("line %d is not a key: value pair: %q", i+1, line)
		}

		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d has an empty key", i+1)
		}
		vars[key] = strings.TrimSpace(value)
	}

	return vars, nil
}

// Interpolate substitutes ${key} references in raw with values from vars.
// Every referenced key must be present; missing keys are load errors so a
// bad environment file fails before any stack is touched.
func Interpolate(raw []byte, vars map[string]string) ([]byte, error) {
	var missing []string

	out := interpolationPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		key := string(interpolationPattern.FindSubmatch(match)[1])
		value, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("undefined environment variables referenced in config: %s",
			strings.Join(dedupe(missing), ", "))
	}
	return out, nil
}

// Validate runs struct validation and the semantic cross-checks: unique
// stack names and requires entries that reference stacks in the same build.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	for i := range cfg.PreBuild {
		if err := cfg.PreBuild[i].Validate(); err != nil {
			return err
		}
	}
	for i := range cfg.PostBuild {
		if err := cfg.PostBuild[i].Validate(); err != nil {
			return err
		}
	}

	names := make(map[string]bool, len(cfg.Stacks))
	for i := range cfg.Stacks {
		name := cfg.Stacks[i].Name
		if names[name] {
			return fmt.Errorf("duplicate stack name: %s", name)
		}
		names[name] = true
	}

	for i := range cfg.Stacks {
		def := &cfg.Stacks[i]
		for _, req := range def.Requires {
			if req == def.Name {
				return fmt.Errorf("stack %s requires itself", def.Name)
			}
			if !names[req] {
				return fmt.Errorf("stack %s requires unknown stack %s", def.Name, req)
			}
		}
	}

	return nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var last string
	for i, s := range sorted {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}
