package logging

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"copharvest/internal/config"
)

func New(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// CaptureHook buffers formatted log entries so a run's output can be
// attached to the report email. Reset starts a fresh capture window.
type CaptureHook struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewCaptureHook() *CaptureHook {
	return &CaptureHook{}
}

func (h *CaptureHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *CaptureHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.buf.WriteString(line)
	h.mu.Unlock()
	return nil
}

func (h *CaptureHook) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

func (h *CaptureHook) Reset() {
	h.mu.Lock()
	h.buf.Reset()
	h.mu.Unlock()
}
