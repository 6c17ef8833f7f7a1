// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _FILE suffix variables and inject the referenced
//     secret values into the environment.
//  4. Use envconfig to process struct tags and populate the Config struct.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator, then apply the
//     cross-field rules struct tags cannot express.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretFileSuffix marks variables that carry a path to a secret instead of
// the secret itself. API_KEY_HASH_FILE=/run/secrets/key populates API_KEY_HASH.
const secretFileSuffix = "_FILE"

// localEnv is the APP_ENV value that permits running without API auth.
const localEnv = "local"

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration. A nil provider resolves
// *_FILE references from the local filesystem.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: godotenv does NOT override existing environment variables.
	_ = godotenv.Load()

	// Step 3: Resolve *_FILE secret references.
	if provider == nil {
		provider = NewFileSecretProvider()
	}
	if err := resolveSecretFiles(provider, deps); err != nil {
		return nil, err
	}

	// Step 4: The empty prefix means envconfig uses the exact tag values.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 5
	cfg.Build = NewBuildInfo()

	// Step 6
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct-tag validation followed by cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	var problems []string
	if cfg.Scheduler.SweepTolerance >= cfg.Scheduler.SweepInterval {
		problems = append(problems, "SWEEP_TOLERANCE must be smaller than SWEEP_INTERVAL")
	}
	if cfg.Environment != localEnv && !cfg.Server.APIKeyHash.IsSet() {
		problems = append(problems, "API_KEY_HASH is required outside the local environment")
	}
	if cfg.Webhook.Platform != "" && cfg.Webhook.URL == "" {
		problems = append(problems, "WEBHOOK_PLATFORM is set without WEBHOOK_URL")
	}
	if len(problems) > 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}

// resolveSecretFiles scans the environment for variables ending in _FILE,
// reads the referenced secrets via the provider, and injects them back into
// the environment so that envconfig can process them.
//
// If the target variable is already set, the reference is skipped. This
// respects the priority chain: OS Environment > Dotenv > secret file.
func resolveSecretFiles(provider SecretProvider, deps loaderDeps) error {
	refToTarget := make(map[string]string)
	var refs []string

	for _, envEntry := range deps.environ() {
		eqIdx := strings.IndexByte(envEntry, '=')
		if eqIdx < 0 {
			continue
		}
		key := envEntry[:eqIdx]
		if !strings.HasSuffix(key, secretFileSuffix) {
			continue
		}

		target := strings.TrimSuffix(key, secretFileSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}

		ref := envEntry[eqIdx+1:]
		if ref == "" {
			continue
		}
		refs = append(refs, ref)
		refToTarget[ref] = target
	}

	if len(refs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolved, err := provider.Resolve(ctx, refs)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret files", len(refs)),
			Err:     err,
		}
	}

	var missing []string
	for _, ref := range refs {
		value, ok := resolved[ref]
		if !ok {
			missing = append(missing, refToTarget[ref])
			continue
		}
		if err := deps.setEnv(refToTarget[ref], value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", refToTarget[ref]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret files not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
