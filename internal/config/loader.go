package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // DISPLAY_TIMEZONE resolves from embedded zone data

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError wraps a failure with the loading stage it came from.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: MODEL_BUCKET_SSM_PARAM=/prod/citycast/bucket
// fills MODEL_BUCKET from that parameter path.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// resolveTimeout bounds the whole parameter resolution step.
const resolveTimeout = 30 * time.Second

// ParameterResolver fetches parameter values by path.
type ParameterResolver interface {
	GetParametersBatch(ctx context.Context, paths []string) (map[string]string, error)
}

type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func osDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// Load reads the configuration from the environment. The resolver may be nil
// when no _SSM_PARAM pointers are set or when APP_ENV is local.
func Load(ctx context.Context, resolver ParameterResolver) (*Config, error) {
	return load(ctx, resolver, osDeps())
}

func load(ctx context.Context, resolver ParameterResolver, deps loaderDeps) (*Config, error) {
	// Dates are rendered as calendar days; keep them stable across hosts.
	time.Local = time.UTC

	// A missing .env is fine. Existing variables are never overridden.
	_ = godotenv.Load()

	if env, _ := deps.lookupEnv("APP_ENV"); env != localEnv {
		if err := resolveParams(ctx, resolver, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// pendingParams maps parameter path to the variable it fills. Variables that
// are already set win over their pointer.
func pendingParams(deps loaderDeps) map[string][]string {
	pending := make(map[string][]string)
	for _, kv := range deps.environ() {
		key, path, ok := strings.Cut(kv, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if target == "" {
			continue
		}
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		pending[path] = append(pending[path], target)
	}
	return pending
}

func resolveParams(ctx context.Context, resolver ParameterResolver, deps loaderDeps) error {
	pending := pendingParams(deps)
	if len(pending) == 0 {
		return nil
	}

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if resolver == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("no parameter resolver configured (need to resolve: %s)", strings.Join(targets(pending, paths), ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	values, err := resolver.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range paths {
		v, ok := values[p]
		if !ok {
			missing = append(missing, pending[p]...)
			continue
		}
		for _, target := range pending[p] {
			if err := deps.setEnv(target, v); err != nil {
				return &ConfigError{
					Type:    ErrSSMResolution,
					Message: fmt.Sprintf("failed to set %s", target),
					Err:     err,
				}
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

func targets(pending map[string][]string, paths []string) []string {
	var out []string
	for _, p := range paths {
		out = append(out, pending[p]...)
	}
	sort.Strings(out)
	return out
}
