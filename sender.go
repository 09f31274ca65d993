package castellan

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender writes codes to a zap logger instead of delivering them. It is
// the development fallback wired in when no CodeSender is configured; Build
// refuses it in production mode.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, destination string, channel Channel, code, purpose string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Info("castellan code delivery (development only)",
		zap.String("delivery_id", uuid.NewString()),
		zap.String("destination", destination),
		zap.String("channel", string(channel)),
		zap.String("purpose", purpose),
		zap.String("code", code),
	)
	return nil
}
