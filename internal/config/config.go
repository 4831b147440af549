package config

// Config holds all configuration for one txlog storage instance.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Applier ApplierConfig `yaml:"applier"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// StorageConfig covers the on-disk layout of the transaction log.
type StorageConfig struct {
	LogDir            string `yaml:"log_dir"`
	SegmentSizeBytes  uint64 `yaml:"segment_size_bytes"`
	PositionCacheSize int    `yaml:"position_cache_size"`
}

// ApplierConfig controls asynchronous transaction application.
type ApplierConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

// HTTPConfig covers the status server.
type HTTPConfig struct {
	Port string `yaml:"port"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			LogDir:            "./data/txlog",
			SegmentSizeBytes:  256 * 1024 * 1024,
			PositionCacheSize: 10_000,
		},
		Applier: ApplierConfig{Workers: 4, Buffer: 64},
		HTTP:    HTTPConfig{Port: "8080"},
		Logger:  LoggerConfig{Level: "info", JSON: false},
	}
}
