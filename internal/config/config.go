package config

import (
	"fmt"
	"strings"

	"imgbatch/internal/batch"
	"imgbatch/internal/compressor"
	"imgbatch/internal/logger"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	SourceDirectory string            `mapstructure:"source_directory"`
	TargetDirectory string            `mapstructure:"target_directory"`
	Compression     CompressionConfig `mapstructure:"compression"`
	Resize          ResizeConfig      `mapstructure:"resize"`
	Convert         ConvertConfig     `mapstructure:"convert"`
	Processing      ProcessingConfig  `mapstructure:"processing"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the quality loop settings
type CompressionConfig struct {
	Quality              int   `mapstructure:"quality"`
	EligibilityThreshold int64 `mapstructure:"eligibility_threshold"` // bytes
	SizeCeiling          int64 `mapstructure:"size_ceiling"`          // bytes
	QualityStep          int   `mapstructure:"quality_step"`
	CompressAll          bool  `mapstructure:"compress_all"`
	ReuseDecoded         bool  `mapstructure:"reuse_decoded"`
	PreserveMetadata     bool  `mapstructure:"preserve_metadata"`
}

// ResizeConfig contains default resize bounds
type ResizeConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// ConvertConfig contains format conversion settings
type ConvertConfig struct {
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

// ProcessingConfig contains file selection and failure handling
type ProcessingConfig struct {
	Extensions []string `mapstructure:"extensions"`
	IgnoreCase bool     `mapstructure:"ignore_case"`
	OnError    string   `mapstructure:"on_error"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	logDefaults := logger.DefaultConfig()
	return &Config{
		SourceDirectory: ".",
		TargetDirectory: "compressed",
		Compression: CompressionConfig{
			Quality:              85,
			EligibilityThreshold: compressor.DefaultEligibilityThreshold,
			SizeCeiling:          compressor.DefaultSizeCeiling,
			QualityStep:          compressor.DefaultQualityStep,
		},
		Convert: ConvertConfig{
			Format: "jpg",
		},
		Processing: ProcessingConfig{
			Extensions: append([]string(nil), batch.DefaultExtensions...),
			OnError:    batch.Continue.String(),
		},
		Logging: LoggingConfig{
			Level:      logDefaults.Level,
			Format:     logDefaults.Format,
			FilePath:   logDefaults.FilePath,
			MaxSize:    logDefaults.MaxSize,
			MaxBackups: logDefaults.MaxBackups,
			MaxAge:     logDefaults.MaxAge,
			Compress:   logDefaults.Compress,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// An empty configPath searches ., $HOME/.imgbatch and /etc/imgbatch for config.yaml.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.imgbatch")
		v.AddConfigPath("/etc/imgbatch")
	}

	v.SetEnvPrefix("IMGBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnv registers every key so AutomaticEnv also applies to Unmarshal,
// which only sees keys viper already knows about.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"source_directory",
		"target_directory",
		"compression.quality",
		"compression.eligibility_threshold",
		"compression.size_ceiling",
		"compression.quality_step",
		"compression.compress_all",
		"compression.reuse_decoded",
		"compression.preserve_metadata",
		"resize.width",
		"resize.height",
		"convert.format",
		"convert.quality",
		"processing.ignore_case",
		"processing.on_error",
		"logging.level",
		"logging.format",
		"logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration and normalizes extensions
func (c *Config) Validate() error {
	if c.SourceDirectory == "" {
		return fmt.Errorf("source_directory is required")
	}
	if c.TargetDirectory == "" {
		return fmt.Errorf("target_directory is required")
	}

	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		return fmt.Errorf("invalid compression.quality: %d (valid: 1-100)", c.Compression.Quality)
	}
	if c.Compression.QualityStep <= 0 {
		c.Compression.QualityStep = compressor.DefaultQualityStep
	}
	if c.Compression.EligibilityThreshold <= 0 {
		c.Compression.EligibilityThreshold = compressor.DefaultEligibilityThreshold
	}
	if c.Compression.SizeCeiling <= 0 {
		c.Compression.SizeCeiling = compressor.DefaultSizeCeiling
	}

	if c.Resize.Width < 0 || c.Resize.Height < 0 {
		return fmt.Errorf("invalid resize bounds: %dx%d", c.Resize.Width, c.Resize.Height)
	}
	if c.Convert.Quality < 0 || c.Convert.Quality > 100 {
		return fmt.Errorf("invalid convert.quality: %d (valid: 0-100)", c.Convert.Quality)
	}

	if _, err := batch.ParsePolicy(c.Processing.OnError); err != nil {
		return err
	}
	if len(c.Processing.Extensions) == 0 {
		c.Processing.Extensions = append([]string(nil), batch.DefaultExtensions...)
	}
	c.Processing.Extensions = normalizeExtensions(c.Processing.Extensions, c.Processing.IgnoreCase)

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Policy returns the parsed error policy. Validate must have succeeded.
func (c *Config) Policy() batch.ErrorPolicy {
	p, _ := batch.ParsePolicy(c.Processing.OnError)
	return p
}

// CompressorSettings builds the settings of a compression run.
func (c *Config) CompressorSettings() compressor.Settings {
	return compressor.Settings{
		EligibilityThreshold: c.Compression.EligibilityThreshold,
		SizeCeiling:          c.Compression.SizeCeiling,
		QualityStep:          c.Compression.QualityStep,
		Extensions:           append([]string(nil), c.Processing.Extensions...),
		IgnoreCase:           c.Processing.IgnoreCase,
		OnError:              c.Policy(),
		ReuseDecoded:         c.Compression.ReuseDecoded,
		PreserveMetadata:     c.Compression.PreserveMetadata,
	}
}

// LoggerConfig maps the logging section onto the logger package.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
		Console:    true,
	}
}

// normalizeExtensions adds the leading dot. Case is folded only when
// matching ignores case, since matching is otherwise exact.
func normalizeExtensions(extensions []string, fold bool) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		if fold {
			ext = strings.ToLower(ext)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
