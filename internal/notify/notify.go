// Package notify delivers best-effort desktop notifications. Delivery is
// fire-and-forget: a machine that is ready to brew matters more than a
// notification daemon that is not running.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

const title = "lmctl"

// Desktop shows a desktop notification with the given message. Failures
// are logged at debug level and otherwise swallowed; they must never fail
// the command that triggered them.
func Desktop(logger *slog.Logger, message string) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := beeep.Notify(title, message, ""); err != nil {
		logger.Debug("desktop notification failed", "error", err)
	}
}
