package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

type fakeResolver struct {
	values map[string]string
	err    error
	calls  [][]string
}

func (f *fakeResolver) GetParametersBatch(_ context.Context, paths []string) (map[string]string, error) {
	f.calls = append(f.calls, paths)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, p := range paths {
		if v, ok := f.values[p]; ok {
			out[p] = v
		}
	}
	return out, nil
}

// testDeps reads the real environment but routes writes through t.Setenv so
// they are undone after the test.
func testDeps(t *testing.T) loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv: func(k, v string) error {
			t.Setenv(k, v)
			return nil
		},
		environ: os.Environ,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "local")

	cfg, err := load(t.Context(), nil, testDeps(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 29*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Models.Source != SourceFS || cfg.Models.Folder != "city_models" {
		t.Errorf("Models = %+v", cfg.Models)
	}
	if cfg.Forecast.Days != 14 || cfg.Forecast.MaxDays != 31 {
		t.Errorf("Forecast = %+v", cfg.Forecast)
	}
	if cfg.Forecast.DisplayTimezone != "UTC" || cfg.Forecast.DisplayLocation() != time.UTC {
		t.Errorf("DisplayTimezone = %q", cfg.Forecast.DisplayTimezone)
	}
	if cfg.Observability.MetricNamespace != "Citycast" {
		t.Errorf("MetricNamespace = %q", cfg.Observability.MetricNamespace)
	}
	if !cfg.IsLocal() {
		t.Error("expected local environment")
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Error("time.Local should be UTC after load")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_SOURCE", "s3")
	t.Setenv("MODEL_BUCKET", "citycast-models")
	t.Setenv("MODEL_PRELOAD", "true")
	t.Setenv("FORECAST_DAYS", "7")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DISPLAY_TIMEZONE", "Asia/Kolkata")

	cfg, err := load(t.Context(), nil, testDeps(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Models.Bucket != "citycast-models" || !cfg.Models.Preload {
		t.Errorf("Models = %+v", cfg.Models)
	}
	if cfg.Forecast.Days != 7 {
		t.Errorf("Days = %d", cfg.Forecast.Days)
	}
	if got := cfg.Forecast.DisplayLocation().String(); got != "Asia/Kolkata" {
		t.Errorf("DisplayLocation = %s", got)
	}
	if len(cfg.Server.CorsAllowedOrigins) != 2 {
		t.Errorf("CorsAllowedOrigins = %v", cfg.Server.CorsAllowedOrigins)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad env", map[string]string{"APP_ENV": "moon"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"s3 without bucket", map[string]string{"MODEL_SOURCE": "s3"}},
		{"unknown source", map[string]string{"MODEL_SOURCE": "ftp"}},
		{"days above max", map[string]string{"FORECAST_DAYS": "40"}},
		{"zero days", map[string]string{"FORECAST_DAYS": "0"}},
		{"non numeric port", map[string]string{"PORT": "http"}},
		{"unknown timezone", map[string]string{"DISPLAY_TIMEZONE": "Mars/Olympus_Mons"}},
		{"local timezone", map[string]string{"DISPLAY_TIMEZONE": "Local"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "local")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := load(t.Context(), nil, testDeps(t))
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Type != ErrValidation {
				t.Errorf("Type = %s, want %s", cfgErr.Type, ErrValidation)
			}
		})
	}
}

func TestLoad_ParsingError(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("FORECAST_DAYS", "fourteen")

	_, err := load(t.Context(), nil, testDeps(t))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrParsing {
		t.Fatalf("expected parsing error, got %v", err)
	}
}

func TestLoad_ResolvesParameters(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("MODEL_SOURCE", "s3")
	t.Setenv("MODEL_BUCKET_SSM_PARAM", "/prod/citycast/model-bucket")

	r := &fakeResolver{values: map[string]string{"/prod/citycast/model-bucket": "prod-models"}}
	cfg, err := load(t.Context(), r, testDeps(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Bucket != "prod-models" {
		t.Errorf("Bucket = %q, want prod-models", cfg.Models.Bucket)
	}
	if len(r.calls) != 1 {
		t.Errorf("resolver calls = %d, want 1", len(r.calls))
	}
}

func TestLoad_EnvironmentWinsOverParameter(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("MODEL_SOURCE", "s3")
	t.Setenv("MODEL_BUCKET", "from-env")
	t.Setenv("MODEL_BUCKET_SSM_PARAM", "/prod/citycast/model-bucket")

	r := &fakeResolver{values: map[string]string{"/prod/citycast/model-bucket": "from-ssm"}}
	cfg, err := load(t.Context(), r, testDeps(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Models.Bucket != "from-env" {
		t.Errorf("Bucket = %q, want from-env", cfg.Models.Bucket)
	}
	if len(r.calls) != 0 {
		t.Errorf("resolver should not be called, got %d calls", len(r.calls))
	}
}

func TestLoad_LocalSkipsParameters(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("METRIC_NAMESPACE_SSM_PARAM", "/dev/citycast/namespace")

	cfg, err := load(t.Context(), nil, testDeps(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forecast.DisplayTimezone != "UTC" || cfg.Forecast.DisplayLocation() != time.UTC {
		t.Errorf("DisplayTimezone = %q", cfg.Forecast.DisplayTimezone)
	}
	if cfg.Observability.MetricNamespace != "Citycast" {
		t.Errorf("MetricNamespace = %q", cfg.Observability.MetricNamespace)
	}
}

func TestLoad_ParameterFailures(t *testing.T) {
	tests := []struct {
		name     string
		resolver ParameterResolver
		contains string
	}{
		{"nil resolver", nil, "METRIC_NAMESPACE"},
		{"resolver error", &fakeResolver{err: errors.New("access denied")}, "access denied"},
		{"missing value", &fakeResolver{values: map[string]string{}}, "not found for: METRIC_NAMESPACE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "staging")
			t.Setenv("METRIC_NAMESPACE_SSM_PARAM", "/staging/citycast/namespace")

			_, err := load(t.Context(), tt.resolver, testDeps(t))
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Type != ErrSSMResolution {
				t.Errorf("Type = %s", cfgErr.Type)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q does not mention %q", err, tt.contains)
			}
		})
	}
}

func TestPendingParams(t *testing.T) {
	env := map[string]string{
		"A_SSM_PARAM": "/p/shared",
		"B_SSM_PARAM": "/p/shared",
		"C_SSM_PARAM": "",
		"D":           "set",
		"D_SSM_PARAM": "/p/d",
		"_SSM_PARAM":  "/p/none",
	}
	deps := loaderDeps{
		lookupEnv: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
		environ: func() []string {
			var out []string
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		},
	}

	got := pendingParams(deps)
	if len(got) != 1 {
		t.Fatalf("pending = %v, want only /p/shared", got)
	}
	if targets := got["/p/shared"]; len(targets) != 2 {
		t.Errorf("/p/shared targets = %v", targets)
	}
}

func TestConfigError_Format(t *testing.T) {
	inner := errors.New("boom")
	err := &ConfigError{Type: ErrParsing, Message: "bad", Err: inner}
	if err.Error() != "[PARSING_FAILED] bad: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	bare := &ConfigError{Type: ErrValidation, Message: "bad"}
	if bare.Error() != "[VALIDATION_FAILED] bad" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
