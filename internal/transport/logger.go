package transport

import "log/slog"

// linkLogger tags transport log lines with the link kind so serial and tcp
// sessions stay distinguishable in a shared gateway log.
func linkLogger(kind string, attrs ...any) *slog.Logger {
	logger := slog.With("component", "transport", "link", kind)
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}

	return logger
}
