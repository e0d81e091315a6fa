package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	StdoutTraces   bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Translate   TranslateConfig  `yaml:"translate"`
	Capture     CaptureConfig    `yaml:"capture"`
	Client      ClientConfig     `yaml:"client"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// TranslateConfig selects and tunes the gateway translation backend.
type TranslateConfig struct {
	Mode         string  `yaml:"mode"` // mock, openai, ollama, exec
	Template     string  `yaml:"template"`
	DelayMS      int     `yaml:"delay_ms"`
	SourceLang   string  `yaml:"source_lang"`
	TargetLang   string  `yaml:"target_lang"`
	Endpoint     string  `yaml:"endpoint"`
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Command      string  `yaml:"command"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

// CaptureConfig describes how the controller opens a capture source.
type CaptureConfig struct {
	Language   string `yaml:"language"`
	Continuous bool   `yaml:"continuous"`
	Interim    bool   `yaml:"interim"`
	Command    string `yaml:"command"`
}

// ClientConfig is used by controllers talking to a remote gateway.
type ClientConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "globalecho",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
			StdoutTraces:   true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/globalecho-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Translate: TranslateConfig{
			Mode:        "mock",
			Template:    "[模拟翻译]：%s",
			DelayMS:     500,
			SourceLang:  "zh-CN",
			TargetLang:  "en",
			Endpoint:    "http://localhost:11434",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		Capture: CaptureConfig{
			Language:   "zh-CN",
			Continuous: true,
			Interim:    true,
		},
		Client: ClientConfig{
			GatewayURL: "http://localhost:8080",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "ECHO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ECHO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ECHO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ECHO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ECHO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ECHO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ECHO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ECHO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.StdoutTraces, "ECHO_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "ECHO_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "ECHO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ECHO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ECHO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ECHO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ECHO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ECHO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ECHO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ECHO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ECHO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ECHO_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ECHO_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ECHO_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "ECHO_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ECHO_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Translate.Mode, "ECHO_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Template, "ECHO_TRANSLATE_TEMPLATE")
	overrideInt(&cfg.Translate.DelayMS, "ECHO_TRANSLATE_DELAY_MS")
	overrideString(&cfg.Translate.SourceLang, "ECHO_TRANSLATE_SOURCE_LANG")
	overrideString(&cfg.Translate.TargetLang, "ECHO_TRANSLATE_TARGET_LANG")
	overrideString(&cfg.Translate.Endpoint, "ECHO_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.BaseURL, "ECHO_TRANSLATE_BASE_URL")
	overrideString(&cfg.Translate.APIKey, "ECHO_TRANSLATE_API_KEY")
	overrideString(&cfg.Translate.Model, "ECHO_TRANSLATE_MODEL")
	overrideString(&cfg.Translate.Command, "ECHO_TRANSLATE_COMMAND")
	overrideString(&cfg.Translate.SystemPrompt, "ECHO_TRANSLATE_SYSTEM_PROMPT")
	overrideInt(&cfg.Translate.MaxTokens, "ECHO_TRANSLATE_MAX_TOKENS")
	overrideFloat(&cfg.Translate.Temperature, "ECHO_TRANSLATE_TEMPERATURE")
	overrideInt(&cfg.Translate.TimeoutMS, "ECHO_TRANSLATE_TIMEOUT_MS")
	overrideString(&cfg.Capture.Language, "ECHO_CAPTURE_LANGUAGE")
	overrideBool(&cfg.Capture.Continuous, "ECHO_CAPTURE_CONTINUOUS")
	overrideBool(&cfg.Capture.Interim, "ECHO_CAPTURE_INTERIM")
	overrideString(&cfg.Capture.Command, "ECHO_CAPTURE_COMMAND")
	overrideString(&cfg.Client.GatewayURL, "ECHO_CLIENT_GATEWAY_URL")
	overrideInt(&cfg.Client.TimeoutMS, "ECHO_CLIENT_TIMEOUT_MS")

	// OPENAI_API_KEY applies when no key is configured.
	if cfg.Translate.APIKey == "" {
		overrideString(&cfg.Translate.APIKey, "OPENAI_API_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Translate.Mode {
	case "mock", "openai", "ollama", "exec":
	default:
		return errors.New("translate.mode must be one of mock|openai|ollama|exec")
	}
	if cfg.Translate.Mode == "mock" && !strings.Contains(cfg.Translate.Template, "%s") {
		return errors.New("translate.template must contain %s when mode=mock")
	}
	if cfg.Translate.Mode == "openai" && cfg.Translate.APIKey == "" {
		return errors.New("translate.api_key must be set when mode=openai")
	}
	if cfg.Translate.Mode == "ollama" && cfg.Translate.Endpoint == "" {
		return errors.New("translate.endpoint must be set when mode=ollama")
	}
	if cfg.Translate.Mode == "exec" && cfg.Translate.Command == "" {
		return errors.New("translate.command must be set when mode=exec")
	}
	if cfg.Translate.DelayMS < 0 {
		return errors.New("translate.delay_ms must be >= 0")
	}
	if cfg.Translate.MaxTokens < 0 {
		return errors.New("translate.max_tokens must be >= 0")
	}
	if cfg.Translate.TargetLang == "" {
		return errors.New("translate.target_lang must not be empty")
	}
	if cfg.Capture.Language == "" {
		return errors.New("capture.language must not be empty")
	}
	if cfg.Client.TimeoutMS < 0 {
		return errors.New("client.timeout_ms must be >= 0")
	}
	return nil
}
