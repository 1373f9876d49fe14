package config

const (
	defaultServerURL          = "http://127.0.0.1"
	defaultRequestTimeout     = 30
	defaultUploadTimeout      = 1800
	defaultStateDir           = "~/.local/share/tafkit"
	defaultLogDir             = "~/.local/share/tafkit/logs"
	defaultBitrate            = 96
	defaultMaxSources         = 99
	defaultLocalEncoderBinary = "teddycloud"
	defaultQuality            = "best"
	defaultMetadataCacheTTL   = 600
	defaultMetadataCacheSize  = 128
	defaultEventsPath         = "/api/sse"
	defaultEventRetryDelay    = 3
	defaultEventResyncDelay   = 3
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

var defaultLocalEncoderArgs = []string{"--encode", "{output}", "{inputs}"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			BaseURL:        defaultServerURL,
			RequestTimeout: defaultRequestTimeout,
			UploadTimeout:  defaultUploadTimeout,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Encode: Encode{
			FollowServerSettings: true,
			Bitrate:              defaultBitrate,
			MaxSources:           defaultMaxSources,
			LocalEncoderBinary:   defaultLocalEncoderBinary,
			LocalEncoderArgs:     append([]string(nil), defaultLocalEncoderArgs...),
		},
		URLImport: URLImport{
			Quality:           defaultQuality,
			MetadataCacheTTL:  defaultMetadataCacheTTL,
			MetadataCacheSize: defaultMetadataCacheSize,
		},
		Events: Events{
			Path:        defaultEventsPath,
			RetryDelay:  defaultEventRetryDelay,
			ResyncDelay: defaultEventResyncDelay,
		},
		Notifications: Notifications{
			Console:        true,
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
