package config

const (
	defaultDataDir          = "~/.local/share/tally"
	defaultLogDir           = "~/.local/share/tally/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultRequestTimeout   = 30
	defaultBaseRetryDelayMS = 2000
	defaultMaxRetryDelayMS  = 60000
	defaultMaxRetries       = 5
	defaultAutosaveInterval = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			RequestTimeout: defaultRequestTimeout,
		},
		Sync: Sync{
			BaseRetryDelayMS: defaultBaseRetryDelayMS,
			MaxRetryDelayMS:  defaultMaxRetryDelayMS,
			MaxRetries:       defaultMaxRetries,
			AutosaveInterval: defaultAutosaveInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
