package run

import (
	"context"

	"go.uber.org/zap"

	"github.com/veligo/chronodrive/classify"
)

// LoggingDriver records entries to the log instead of driving a browser.
// It serves as the dry-run driver and as the default when no automation
// backend is wired in.
type LoggingDriver struct {
	logger *zap.SugaredLogger
}

// NewLoggingDriver creates a driver that only logs.
func NewLoggingDriver(log *zap.SugaredLogger) *LoggingDriver {
	return &LoggingDriver{logger: log}
}

type loggingSession struct{ user string }

func (d *LoggingDriver) Open(ctx context.Context, creds Credentials) (Session, error) {
	d.logger.Infow("Dry-run session opened", "user", creds.Username)
	return &loggingSession{user: creds.Username}, nil
}

func (d *LoggingDriver) PerformEntry(ctx context.Context, session Session, row classify.Row) error {
	d.logger.Infow("Dry-run entry",
		"account", row.Account,
		"project", row.Project,
		"extra", row.Extra)
	return nil
}

func (d *LoggingDriver) PerformSpecialEntry(ctx context.Context, session Session, row classify.Row, kind classify.Kind) error {
	d.logger.Infow("Dry-run special entry",
		"account", row.Account,
		"kind", kind)
	return nil
}

func (d *LoggingDriver) Close(session Session) error {
	s := session.(*loggingSession)
	d.logger.Infow("Dry-run session closed", "user", s.user)
	return nil
}
