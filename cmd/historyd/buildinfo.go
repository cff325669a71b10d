package main

import (
	"log/slog"
	"runtime/debug"

	"github.com/irchistory/memhistory/internal/historydb"
)

func logBuildInfo(logger *slog.Logger) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		logger.Error("Build info unavailable")
		return
	}

	settings := map[string]string{}

	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}

	logger.Info("Build info",
		slog.String("go_version", info.GoVersion),
		slog.String("main.path", info.Main.Path),
		slog.Any("settings", settings),
		slog.Int("history_format_version", historydb.CurrentVersion),
		slog.Int("history_format_min_supported", historydb.MinSupportedVersion),
	)
}
