package audio

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

const overflowRestartDelay = 250 * time.Millisecond

type streamer interface {
	Stream(w io.Writer) error
}

// streamWithRetry pumps the device into w, restarting after input
// overflows, until ctx ends or the device fails for another reason.
func streamWithRetry(ctx context.Context, s streamer, w io.Writer, wait func(time.Duration), logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.Stream(w)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logger.Warn("capture input overflow, restarting stream")
			wait(overflowRestartDelay)
			continue
		}

		logger.Error("capture stream failed", "error", err)
		return
	}
}
