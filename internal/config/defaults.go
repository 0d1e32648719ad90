package config

const (
	defaultExportsDir        = "~/playlog/exports"
	defaultDataDir           = "~/.local/share/playlog/data"
	defaultEnrichedDir       = "~/.local/share/playlog/enriched"
	defaultStateDir          = "~/.local/share/playlog/state"
	defaultLogDir            = "~/.local/share/playlog/logs"
	defaultSpotifyBaseURL    = "https://api.spotify.com/v1"
	defaultSpotifyTokenURL   = "https://accounts.spotify.com/api/token"
	defaultRequestIntervalMS = 300
	defaultMaxRetries        = 3
	defaultBatchSize         = 50
	defaultBatchPauseSeconds = 5
	defaultDatasetPath       = "~/.local/share/playlog/data/SpotifyFeatures.csv"
	defaultDatasetURL        = "https://storage.googleapis.com/kaggle-data-sets/ultimate-spotify-tracks-db/SpotifyFeatures.zip"
	defaultMinPlayedSeconds  = 30
	defaultSplitColumn       = "media_type"
	defaultNotifyTimeout     = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ExportsDir:  defaultExportsDir,
			DataDir:     defaultDataDir,
			EnrichedDir: defaultEnrichedDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
		},
		Spotify: Spotify{
			BaseURL:           defaultSpotifyBaseURL,
			TokenURL:          defaultSpotifyTokenURL,
			RequestIntervalMS: defaultRequestIntervalMS,
			MaxRetries:        defaultMaxRetries,
			BatchSize:         defaultBatchSize,
			BatchPauseSeconds: defaultBatchPauseSeconds,
		},
		Dataset: Dataset{
			Path:        defaultDatasetPath,
			DownloadURL: defaultDatasetURL,
		},
		Cleaning: Cleaning{
			MinPlayedSeconds: defaultMinPlayedSeconds,
		},
		Split: Split{
			Column: defaultSplitColumn,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
