package log

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"firestige.xyz/netweaver/internal/config"
)

// Init builds a logger from cfg and installs it as the process logger.
func Init(cfg config.LogConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// New builds a logger from cfg without touching the process logger. Stdout is
// always an output; a rotating file is added when enabled.
func New(cfg config.LogConfig) (Logger, error) {
	out := NewMultiWriter().Add(os.Stdout)
	if cfg.Outputs.File.Enabled {
		if _, err := out.AddFileAppender(cfg.Outputs.File); err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
	}

	l, err := newLogrus(cfg, out)
	if err != nil {
		return nil, err
	}
	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}
