package probez

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration: backend selection, identity
// derivation, limits, logging and optional provider declarations.
type Config struct {
	Backend       string         `yaml:"backend" env:"PROBEZ_BACKEND"`
	IdentityScope string         `yaml:"identity_scope" env:"PROBEZ_IDENTITY_SCOPE"`
	MaxArgs       int            `yaml:"max_args" env:"PROBEZ_MAX_ARGS"`
	Log           LogConfig      `yaml:"log"`
	Providers     []ProviderDecl `yaml:"providers"`
}

// ProviderDecl declares a provider and its probes in a configuration file.
type ProviderDecl struct {
	Name   string      `yaml:"name"`
	Module string      `yaml:"module,omitempty"`
	GUID   string      `yaml:"guid,omitempty"`
	Probes []ProbeDecl `yaml:"probes"`
}

// ProbeDecl declares one probe. Descriptor is optional; without it event
// ids are assigned in declaration order.
type ProbeDecl struct {
	Name       string           `yaml:"name"`
	Descriptor *EventDescriptor `yaml:"descriptor,omitempty"`
	Args       []string         `yaml:"args"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		IdentityScope: ScopeNames.String(),
		MaxArgs:       MaxArgs,
		Log:           LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML configuration file over the defaults and then
// applies environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(reflect.ValueOf(&cfg)); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseConfig parses YAML configuration over the defaults without
// consulting the environment.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration, including every declared type name.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Backend) {
	case "", BackendAuto, BackendNoop, BackendUserEvents, BackendETW:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown kind %q", c.Backend))
	}
	if _, err := ParseIdentityScope(c.IdentityScope); err != nil {
		errs = append(errs, fmt.Errorf("identity_scope: %w", err))
	}
	if c.MaxArgs < 1 || c.MaxArgs > MaxArgs {
		errs = append(errs, fmt.Errorf("max_args: %d outside 1..%d", c.MaxArgs, MaxArgs))
	}

	names := make(map[string]bool)
	for i, pd := range c.Providers {
		if strings.TrimSpace(pd.Name) == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: %w: name is required", i, ErrInvalidName))
			continue
		}
		key := pd.Name + "\x00" + pd.Module
		if names[key] {
			errs = append(errs, fmt.Errorf("providers[%d]: %q declared twice", i, pd.Name))
		}
		names[key] = true
		if pd.GUID != "" {
			if _, err := ParseIdentity(pd.GUID); err != nil {
				errs = append(errs, fmt.Errorf("providers[%d].guid: %w", i, err))
			}
		}
		for j, probe := range pd.Probes {
			if _, err := ResolveSignature(probe.Args...); err != nil {
				errs = append(errs, fmt.Errorf("providers[%d].probes[%d]: %w", i, j, err))
			}
		}
	}

	return errors.Join(errs...)
}

// Options converts the configuration into provider options.
func (c Config) Options() []Option {
	scope, _ := ParseIdentityScope(c.IdentityScope)
	return []Option{
		WithIdentityScope(scope),
		WithMaxArgs(c.MaxArgs),
	}
}

// Declare creates every provider and probe the configuration declares.
// opts are applied after the configuration's own options. On failure the
// providers created so far are closed.
func Declare(cfg Config, opts ...Option) ([]*Provider, error) {
	base := append(cfg.Options(), opts...)
	providers := make([]*Provider, 0, len(cfg.Providers))

	fail := func(err error) ([]*Provider, error) {
		for _, p := range providers {
			_ = p.Close()
		}
		return nil, err
	}

	for _, pd := range cfg.Providers {
		popts := append([]Option{WithModule(pd.Module)}, base...)
		if pd.GUID != "" {
			popts = append(popts, WithIdentityString(pd.GUID))
		}
		p, err := NewProvider(pd.Name, popts...)
		if err != nil {
			return fail(err)
		}
		providers = append(providers, p)

		for _, probe := range pd.Probes {
			if probe.Descriptor != nil {
				_, err = p.CreateProbeWithDescriptor(probe.Name, *probe.Descriptor, probe.Args...)
			} else {
				_, err = p.CreateProbe(probe.Name, probe.Args...)
			}
			if err != nil {
				return fail(fmt.Errorf("provider %q: %w", pd.Name, err))
			}
		}
	}
	return providers, nil
}

// loadFromEnv overrides fields carrying an `env` tag from the environment,
// descending into nested structs.
func loadFromEnv(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		value := os.Getenv(envTag)
		if value == "" {
			continue
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(value)
		case reflect.Int:
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer for %s (%s): %w", fieldType.Name, envTag, err)
			}
			field.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s (%s): %w", fieldType.Name, envTag, err)
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("unsupported type %s for %s (%s)", field.Kind(), fieldType.Name, envTag)
		}
	}
	return nil
}
