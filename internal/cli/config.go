package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/memorykit/internal/app"
	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/paths"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// Config keys.
const (
	cfgKeyBackend      = "backend"
	cfgKeyDataDir      = "data_dir"
	cfgKeyLogMode      = "log_mode"
	cfgKeyBuildProfile = "build_profile"
	cfgKeyTranscript   = "transcript"
	cfgKeyTokenizer    = "tokenizer"
	cfgKeyMinTokens    = "fetcher.min_tokens"
	cfgKeyCarryoverK   = "fetcher.carryover_k"
	cfgKeyConcurrency  = "fetcher.concurrency"
	cfgKeyLLMBaseURL   = "llm.base_url"
	cfgKeyLLMModel     = "llm.model"
	cfgKeyLLMKeyEnv    = "llm.api_key_env"
	cfgKeyServerAddr   = "server.addr"
	cfgKeyRecovery     = "recovery.schedule"
)

const envPrefix = "MEMORYKIT"

// configFile is the structure written to config.yaml on first run.
type configFile struct {
	Backend      string          `yaml:"backend"`
	DataDir      string          `yaml:"data_dir,omitempty"`
	LogMode      string          `yaml:"log_mode"`
	BuildProfile string          `yaml:"build_profile"`
	Transcript   string          `yaml:"transcript,omitempty"`
	Tokenizer    string          `yaml:"tokenizer"`
	Fetcher      fetcherSection  `yaml:"fetcher"`
	LLM          llmSection      `yaml:"llm"`
	Server       serverSection   `yaml:"server"`
	Recovery     recoverySection `yaml:"recovery"`
}

type fetcherSection struct {
	MinTokens   int `yaml:"min_tokens"`
	CarryoverK  int `yaml:"carryover_k"`
	Concurrency int `yaml:"concurrency"`
}

type llmSection struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type serverSection struct {
	Addr string `yaml:"addr"`
}

type recoverySection struct {
	Schedule string `yaml:"schedule"`
}

func defaultConfigFile() configFile {
	return configFile{
		Backend:      types.BackendSQLite,
		LogMode:      "dev",
		BuildProfile: "DEV",
		Tokenizer:    gateway.DefaultEncoding,
		Fetcher:      fetcherSection{MinTokens: 1000, CarryoverK: 5, Concurrency: 4},
		LLM:          llmSection{Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY"},
		Server:       serverSection{Addr: "127.0.0.1:8787"},
		Recovery:     recoverySection{Schedule: app.DefaultRecoverySchedule},
	}
}

// setDefaults mirrors defaultConfigFile so a config.yaml that omits keys
// still yields usable values.
func setDefaults(v *viper.Viper) {
	d := defaultConfigFile()
	v.SetDefault(cfgKeyBackend, d.Backend)
	v.SetDefault(cfgKeyLogMode, d.LogMode)
	v.SetDefault(cfgKeyBuildProfile, d.BuildProfile)
	v.SetDefault(cfgKeyTokenizer, d.Tokenizer)
	v.SetDefault(cfgKeyMinTokens, d.Fetcher.MinTokens)
	v.SetDefault(cfgKeyCarryoverK, d.Fetcher.CarryoverK)
	v.SetDefault(cfgKeyConcurrency, d.Fetcher.Concurrency)
	v.SetDefault(cfgKeyLLMModel, d.LLM.Model)
	v.SetDefault(cfgKeyLLMKeyEnv, d.LLM.APIKeyEnv)
	v.SetDefault(cfgKeyServerAddr, d.Server.Addr)
	v.SetDefault(cfgKeyRecovery, d.Recovery.Schedule)
}

// envKeys may be overridden with MEMORYKIT_<KEY>. data_dir is resolved
// separately so that config.yaml wins over MEMORYKIT_DATA_DIR.
var envKeys = []string{
	cfgKeyLogMode, cfgKeyBuildProfile, cfgKeyTranscript, cfgKeyTokenizer,
	cfgKeyMinTokens, cfgKeyCarryoverK, cfgKeyConcurrency,
	cfgKeyLLMBaseURL, cfgKeyLLMModel, cfgKeyLLMKeyEnv,
	cfgKeyServerAddr, cfgKeyRecovery,
}

// loadConfig reads config.yaml from configDir using Viper. It creates the
// directory and a default config.yaml on first run.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	if err := writeConfigIfMissing(paths.ConfigFile(configDir), defaultConfigFile()); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(paths.ConfigFile(configDir))
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// writeConfigIfMissing creates path with cfg if the file does not exist.
func writeConfigIfMissing(path string, cfg configFile) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# memorykit configuration. Environment variables MEMORYKIT_<KEY> override\n# these values, with dots replaced by underscores.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// appConfig builds the App configuration from the loaded values.
func (e *env) appConfig() (app.Config, error) {
	dataDir, err := e.dataDir()
	if err != nil {
		return app.Config{}, err
	}
	v := e.v
	cfg := app.Config{
		DataDir:      dataDir,
		LogMode:      v.GetString(cfgKeyLogMode),
		BuildProfile: v.GetString(cfgKeyBuildProfile),
		Transcript:   v.GetString(cfgKeyTranscript),
		Tokenizer:    v.GetString(cfgKeyTokenizer),
		Fetcher: app.FetcherConfig{
			MinTokens:   v.GetInt(cfgKeyMinTokens),
			CarryoverK:  v.GetInt(cfgKeyCarryoverK),
			Concurrency: v.GetInt(cfgKeyConcurrency),
		},
		LLM: app.LLMConfig{
			BaseURL: v.GetString(cfgKeyLLMBaseURL),
			Model:   v.GetString(cfgKeyLLMModel),
		},
	}
	if keyEnv := v.GetString(cfgKeyLLMKeyEnv); keyEnv != "" {
		cfg.LLM.APIKey = os.Getenv(keyEnv)
	}
	return cfg, nil
}
