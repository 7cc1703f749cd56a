package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Gleaner", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("source", config.Ingest.Source).
		Str("records_path", config.Storage.Badger.Path).
		Str("control_path", config.Storage.SQLite.Path).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("Gleaner starting")
}
