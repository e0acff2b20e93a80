package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New создает JSON-логгер сервиса; каждая запись несет поле service.
func New(service string, level logrus.Level) *logrus.Entry {
	return NewWithOutput(service, level, os.Stdout)
}

func NewWithOutput(service string, level logrus.Level, out io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(out)
	logger.SetLevel(level)

	return logger.WithField("service", service)
}

// Nop возвращает логгер, который ничего не пишет.
func Nop() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
