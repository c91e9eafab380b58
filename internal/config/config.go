// Package config loads the assistant configuration from
// ~/.fae/config.yaml. The file is optional; missing sections and unknown
// keys fall back to defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend selects how assistant turns are produced.
type Backend string

const (
	BackendLocal Backend = "local" // in-process model
	BackendAPI   Backend = "api"   // remote OpenAI-compatible endpoint
	BackendAgent Backend = "agent" // external agent process
)

// Config is the single typed record the rest of the runtime reads.
type Config struct {
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	STT          STTConfig          `yaml:"stt"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Conversation ConversationConfig `yaml:"conversation"`
	BargeIn      BargeInConfig      `yaml:"barge_in"`
	Canvas       CanvasConfig       `yaml:"canvas"`
	Memory       MemoryConfig       `yaml:"memory"`
	Permissions  PermissionsConfig  `yaml:"permissions"`
	Skills       SkillsConfig       `yaml:"skills"`
	Server       ServerConfig       `yaml:"server"`
	Onboarded    bool               `yaml:"onboarded"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameMs    int `yaml:"frame_ms"`
}

type VADConfig struct {
	Threshold    float64 `yaml:"threshold"`
	SpeechPadMs  int     `yaml:"speech_pad_ms"`
	MinSpeechMs  int     `yaml:"min_speech_duration_ms"`
	MinSilenceMs int     `yaml:"min_silence_duration_ms"`
}

type STTConfig struct {
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type LLMConfig struct {
	Backend     Backend `yaml:"backend"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Mode        string  `yaml:"mode"` // chat or responses
	ToolMode    string  `yaml:"tool_mode"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Voice     string  `yaml:"voice"`
	SpeedRate float64 `yaml:"speed_rate"`
}

type ConversationConfig struct {
	SystemPrompt        string   `yaml:"system_prompt"`
	MaxTurns            int      `yaml:"max_turns"`
	MaxToolCallsPerTurn int      `yaml:"max_tool_calls_per_turn"`
	RequestTimeoutSecs  int      `yaml:"request_timeout_secs"`
	ToolTimeoutSecs     int      `yaml:"tool_timeout_secs"`
	WakePhrases         []string `yaml:"wake_phrases"`
	StopPhrases         []string `yaml:"stop_phrases"`
	StartAwake          bool     `yaml:"start_awake"`
}

type BargeInConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	MinRMS                  float64 `yaml:"min_rms"`
	ConfirmMs               int     `yaml:"confirm_ms"`
	AssistantStartHoldoffMs int     `yaml:"assistant_start_holdoff_ms"`
}

type CanvasConfig struct {
	RemoteURL string `yaml:"remote_url"`
}

type MemoryConfig struct {
	RootDir       string `yaml:"root_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type PermissionsConfig struct {
	ClearAlwaysAllowOnDowngrade bool `yaml:"clear_always_allow_on_downgrade"`
}

type SkillsConfig struct {
	Dir         string `yaml:"dir"`
	Interpreter string `yaml:"interpreter"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	root := DefaultDataDir()
	return &Config{
		Audio: AudioConfig{SampleRate: 16000, FrameMs: 20},
		VAD: VADConfig{
			Threshold:    0.015,
			SpeechPadMs:  120,
			MinSpeechMs:  200,
			MinSilenceMs: 600,
		},
		STT: STTConfig{Language: "en"},
		LLM: LLMConfig{
			Backend:   BackendAPI,
			BaseURL:   "http://localhost:11434/v1",
			Model:     "qwen3:8b",
			Mode:      "chat",
			ToolMode:  "read_write",
			MaxTokens: 4096,
		},
		TTS: TTSConfig{Voice: "default", SpeedRate: 1.0},
		Conversation: ConversationConfig{
			MaxTurns:            8,
			MaxToolCallsPerTurn: 16,
			RequestTimeoutSecs:  120,
			ToolTimeoutSecs:     60,
			WakePhrases:         []string{"hey fae", "hi fae"},
			StopPhrases:         []string{"go to sleep", "stop listening"},
		},
		BargeIn: BargeInConfig{
			Enabled:                 true,
			MinRMS:                  0.02,
			ConfirmMs:               250,
			AssistantStartHoldoffMs: 400,
		},
		Memory: MemoryConfig{RootDir: root, RetentionDays: 90},
		Skills: SkillsConfig{Dir: filepath.Join(root, "skills"), Interpreter: "python3"},
		Server: ServerConfig{Addr: "127.0.0.1:27710"},
	}
}

// DefaultDataDir returns the default data directory (~/.fae).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fae"
	}
	return filepath.Join(home, ".fae")
}

// Load loads config from ~/.fae/config.yaml. A missing file yields defaults.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(DefaultDataDir(), "config.yaml"))
}

// LoadFrom loads config from a specific path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.LLM.BaseURL = os.ExpandEnv(cfg.LLM.BaseURL)
	cfg.LLM.APIKey = os.ExpandEnv(cfg.LLM.APIKey)
	cfg.Canvas.RemoteURL = os.ExpandEnv(cfg.Canvas.RemoteURL)
	return cfg, nil
}

// Save writes the config to ~/.fae/config.yaml.
func (c *Config) Save() error {
	dir := DefaultDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600)
}

// DBPath returns the path to the SQLite session database.
func (c *Config) DBPath() string {
	return filepath.Join(c.Memory.RootDir, "fae.db")
}

// SchedulerRestartNeeded reports whether a config change requires the
// scheduler to be stopped and relaunched. Only the memory root and the
// retention window matter; other memory fields are ignored.
func SchedulerRestartNeeded(prev, next *Config) bool {
	return prev.Memory.RootDir != next.Memory.RootDir ||
		prev.Memory.RetentionDays != next.Memory.RetentionDays
}
