package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Conversion  ConversionConfig  `mapstructure:"conversion"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Encoder     EncoderConfig     `mapstructure:"encoder"`
	Compression CompressionConfig `mapstructure:"compression"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ConversionConfig holds request defaults that CLI flags may override
type ConversionConfig struct {
	OutputDirectory     string   `mapstructure:"output_directory"`
	FPS                 float64  `mapstructure:"fps"`
	LoopCount           uint32   `mapstructure:"loop_count"` // 0 = infinite
	Formats             []string `mapstructure:"formats"`
	CompressionQuality  int      `mapstructure:"compression_quality"`
	UseLocalCompression bool     `mapstructure:"use_local_compression"`
	SizeMismatch        string   `mapstructure:"size_mismatch"` // pad, reject
}

// ScannerConfig contains frame discovery settings
type ScannerConfig struct {
	Workers             int      `mapstructure:"workers"`
	CachePath           string   `mapstructure:"cache_path"` // empty = in-memory only
	SupportedExtensions []string `mapstructure:"supported_extensions"`
}

// EncoderConfig tunes the format encoders
type EncoderConfig struct {
	APNGCompressionLevel int  `mapstructure:"apng_compression_level"`
	GIFDither            bool `mapstructure:"gif_dither"`
}

// CompressionConfig contains post-encode compression settings
type CompressionConfig struct {
	Remote RemoteConfig `mapstructure:"remote"`
}

// RemoteConfig configures the Tinify-compatible web service
type RemoteConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProgressConfig contains progress stream settings
type ProgressConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// ServerConfig contains the local HTTP/WebSocket adapter settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Conversion: ConversionConfig{
			OutputDirectory:    ".",
			FPS:                10,
			LoopCount:          0,
			Formats:            []string{"webp", "apng", "gif"},
			CompressionQuality: 80,
			SizeMismatch:       "pad",
		},
		Scanner: ScannerConfig{
			Workers: 4,
			SupportedExtensions: []string{
				".png", ".jpg", ".jpeg", ".webp", ".gif", ".apng",
			},
		},
		Encoder: EncoderConfig{
			APNGCompressionLevel: -1, // zlib default
			GIFDither:            true,
		},
		Compression: CompressionConfig{
			Remote: RemoteConfig{
				Endpoint: "https://api.tinify.com",
				Timeout:  60 * time.Second,
			},
		},
		Progress: ProgressConfig{
			Buffer: 256,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "frame-converter.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.frame-converter")
		v.AddConfigPath("/etc/frame-converter")
	}

	// Enable environment variable support
	v.SetEnvPrefix("FRAME_CONVERTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// AutomaticEnv only resolves keys viper already knows about, so the
// environment-only keys are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"conversion.output_directory",
		"conversion.fps",
		"conversion.compression_quality",
		"conversion.size_mismatch",
		"scanner.workers",
		"scanner.cache_path",
		"compression.remote.enabled",
		"compression.remote.endpoint",
		"compression.remote.api_key",
		"server.port",
		"logging.level",
		"logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	conv := &c.Conversion
	if conv.OutputDirectory == "" {
		conv.OutputDirectory = "."
	}
	conv.OutputDirectory = expandPath(conv.OutputDirectory)

	if !(conv.FPS > 0) {
		return fmt.Errorf("conversion.fps must be positive, got %v", conv.FPS)
	}
	if conv.CompressionQuality < 1 || conv.CompressionQuality > 100 {
		return fmt.Errorf("conversion.compression_quality must be within 1-100, got %d", conv.CompressionQuality)
	}

	validFormats := map[string]bool{"webp": true, "apng": true, "gif": true}
	for i, f := range conv.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !validFormats[f] {
			return fmt.Errorf("invalid format: %s (valid: webp, apng, gif)", f)
		}
		conv.Formats[i] = f
	}

	conv.SizeMismatch = strings.ToLower(conv.SizeMismatch)
	if conv.SizeMismatch == "" {
		conv.SizeMismatch = "pad"
	}
	if conv.SizeMismatch != "pad" && conv.SizeMismatch != "reject" {
		return fmt.Errorf("invalid size_mismatch policy: %s (valid: pad, reject)", conv.SizeMismatch)
	}

	if c.Scanner.Workers <= 0 {
		c.Scanner.Workers = 4
	}
	if c.Scanner.CachePath != "" {
		c.Scanner.CachePath = expandPath(c.Scanner.CachePath)
	}
	c.Scanner.SupportedExtensions = normalizeExtensions(c.Scanner.SupportedExtensions)

	if l := c.Encoder.APNGCompressionLevel; l < -2 || l > 9 {
		return fmt.Errorf("encoder.apng_compression_level must be within -2..9, got %d", l)
	}

	remote := &c.Compression.Remote
	if remote.Enabled && remote.APIKey == "" {
		return fmt.Errorf("compression.remote.api_key is required when remote compression is enabled")
	}
	if remote.Timeout <= 0 {
		remote.Timeout = 60 * time.Second
	}

	if c.Progress.Buffer <= 0 {
		c.Progress.Buffer = 256
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// Addr returns the server listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
