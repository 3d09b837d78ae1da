// Package email delivers the one-time passwords generated on registration and reset.
package email

import (
	"context"
	"os"
	"strconv"

	"go.uber.org/zap"
)

type Sender interface {
	SendNewPasswordEmail(ctx context.Context, firstName, password, email string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// ConfigFromEnv reads SMTP_* variables; an empty Host selects the LogSender.
func ConfigFromEnv() Config {
	port := 465
	if v, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && v > 0 {
		port = v
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = "support@getarrays.com"
	}
	return Config{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     port,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     from,
	}
}

// New returns an SMTP sender when a host is configured, otherwise a LogSender.
func New(cfg Config, logger *zap.SugaredLogger) Sender {
	if cfg.Host == "" {
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg)
}

// LogSender records that a password email would have been sent. The password itself is not logged.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender { return &LogSender{logger: logger} }

func (s *LogSender) SendNewPasswordEmail(_ context.Context, firstName, _ string, email string) error {
	s.logger.Infow("new password email (smtp disabled)", "first_name", firstName, "email", email)
	return nil
}
