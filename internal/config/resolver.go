// Package config resolves runtime settings from config file, environment,
// and CLI flags, recording where each value came from. Precedence is
// CLI > env > config file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is one setting plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-level overrides into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIDBPath  string
}

// ResolvedConfig is the full resolved runtime configuration.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath      ResolvedValue `json:"db_path"`
	LLMProvider ResolvedValue `json:"llm_provider"`

	// Tunables for the batch engines. Empty means built-in default.
	AttachThreshold ResolvedValue `json:"attach_threshold"`
	EdgeThreshold   ResolvedValue `json:"edge_threshold"`
	PairThreshold   ResolvedValue `json:"pair_threshold"`
	MergeThreshold  ResolvedValue `json:"merge_threshold"`
	MaxOrphans      ResolvedValue `json:"max_orphans"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`
	Consolidate struct {
		AttachThreshold string `yaml:"attach_threshold"`
		EdgeThreshold   string `yaml:"edge_threshold"`
		MaxOrphans      string `yaml:"max_orphans"`
	} `yaml:"consolidate"`
	Contradict struct {
		PairThreshold string `yaml:"pair_threshold"`
	} `yaml:"contradict"`
	Dedupe struct {
		MergeThreshold string `yaml:"merge_threshold"`
	} `yaml:"dedupe"`
}

// DefaultConfigPath is ~/.loreweave/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loreweave", "config.yaml")
}

// ResolveConfig resolves every setting with full provenance. A missing
// config file is fine; a malformed one is an error.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.AttachThreshold, cfg.Consolidate.AttachThreshold, SourceConfig, path)
		apply(&out.EdgeThreshold, cfg.Consolidate.EdgeThreshold, SourceConfig, path)
		apply(&out.MaxOrphans, cfg.Consolidate.MaxOrphans, SourceConfig, path)
		apply(&out.PairThreshold, cfg.Contradict.PairThreshold, SourceConfig, path)
		apply(&out.MergeThreshold, cfg.Dedupe.MergeThreshold, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "LOREWEAVE_DB")
	applyEnv(&out.DBPath, "LOREWEAVE_DB_PATH")
	applyEnv(&out.LLMProvider, "LOREWEAVE_LLM")
	applyEnv(&out.AttachThreshold, "LOREWEAVE_ATTACH_THRESHOLD")
	applyEnv(&out.EdgeThreshold, "LOREWEAVE_EDGE_THRESHOLD")
	applyEnv(&out.PairThreshold, "LOREWEAVE_PAIR_THRESHOLD")
	applyEnv(&out.MergeThreshold, "LOREWEAVE_MERGE_THRESHOLD")
	applyEnv(&out.MaxOrphans, "LOREWEAVE_MAX_ORPHANS")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// APIKeyForProvider returns the key for a "provider" or "provider/model"
// string, falling back to the default key when no provider-specific one is
// set.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// FloatOr parses the value as a float, returning the fallback when the
// value is unset or unparseable.
func (v ResolvedValue) FloatOr(fallback float64) float64 {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

// IntOr parses the value as an int, returning the fallback when the value
// is unset or unparseable.
func (v ResolvedValue) IntOr(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
