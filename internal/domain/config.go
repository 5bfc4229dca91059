package domain

import "time"

// LinksHandler rewrites a discovered URL to the target that should
// actually be downloaded. Returning the input unchanged is a no-op.
type LinksHandler func(url string) string

// ErrorsHandler receives the human-readable diagnostic for an entry's
// accumulated errors and whether they were fatal for the entry.
type ErrorsHandler func(description string, fatal bool)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Notification NotificationConfig `mapstructure:"notification"`

	// Caller-supplied hooks and strategies, not loadable from file.
	Resolvers     []EntryResolver `mapstructure:"-"`
	LinksHandler  LinksHandler    `mapstructure:"-"`
	ErrorsHandler ErrorsHandler   `mapstructure:"-"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains the download pipeline configuration
type DownloadConfig struct {
	RootPath      string `mapstructure:"root_path"`
	IndexFileName string `mapstructure:"index_file_name"`
	CacheCSS      bool   `mapstructure:"cache_css"`

	// MediaBackground is the placeholder color behind synthesized audio
	// players, which have no visual poster.
	MediaBackground string `mapstructure:"media_background"`

	// MediaContainerClasses names the wrapper classes whose nearest
	// ancestor gets replaced when substituting synthesized media markup.
	MediaContainerClasses []string `mapstructure:"media_container_classes"`
}

// QueueConfig contains queue-related configuration
type QueueConfig struct {
	DatabasePath    string `mapstructure:"database_path"`
	ContainerID     string `mapstructure:"container_id"`
	ConcurrentLimit int    `mapstructure:"concurrent_limit"`
}

// NotificationConfig controls desktop notifications for failed entries
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Download: DownloadConfig{
			RootPath:              "$HOME/.offline-cache/content",
			IndexFileName:         "index.html",
			CacheCSS:              true,
			MediaBackground:       "#000080",
			MediaContainerClasses: []string{"fluid-width-video-wrapper"},
		},
		Queue: QueueConfig{
			DatabasePath:    "$HOME/.offline-cache/queue.db",
			ContainerID:     "default",
			ConcurrentLimit: 3,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}

// RenderSettleTimeout is the quiet period after which a rendered page
// with no in-flight requests or DOM mutations counts as settled.
const RenderSettleTimeout = 10 * time.Second
