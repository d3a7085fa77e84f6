package config

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	dotEnvOnce sync.Once
	logg       = newLogger()
)

// loadDotEnv reads an optional .env once; variables already set in the environment win.
func loadDotEnv() {
	dotEnvOnce.Do(func() { _ = godotenv.Load() })
}

func GetLogger() *logrus.Logger {
	return logg
}

// newLogger writes JSON to stdout. LOG_LEVEL picks the level, LOG_FORMAT=text switches to plain text for local runs.
func newLogger() *logrus.Logger {
	loadDotEnv()
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// LogError logs err with the module/funcName fields every service log line carries.
func LogError(logger *logrus.Logger, moduleName string, funcName string, message string, err error, fields logrus.Fields) {
	logger.WithFields(fields).WithFields(logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
	}).WithError(err).Error(message)
}
