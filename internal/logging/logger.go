// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/config"
)

// Init applies level and format to the standard logrus logger. Format
// "json" is meant for production log aggregation; anything else gives the
// human-readable text formatter. Output from the stdlib log package is
// routed through logrus as well.
func Init(cfg config.LogConfig) error {
	return configure(logrus.StandardLogger(), cfg, os.Stdout)
}

func configure(logger *logrus.Logger, cfg config.LogConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.WriterLevel(logrus.InfoLevel))
	return nil
}
