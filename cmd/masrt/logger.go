package main

import (
	"os"

	"github.com/agentruntime/masrt/pkg/logger"
)

const (
	logFileEnvVar    = "LOG_FILE"
	logLevelEnvVar   = "LOG_LEVEL"
	logFormatEnvVar  = "LOG_FORMAT"
	defaultLogFormat = "simple"
)

// initLoggerFromCLI initializes the process-wide logger from CLI flags,
// falling back to environment variables and finally to defaults.
// Grounded on cmd/hector's initLoggerFromCLI (same flag > env > default
// precedence, same OpenLogFile/Init split).
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	logLevel := cliLogLevel
	if logLevel == "" {
		logLevel = os.Getenv(logLevelEnvVar)
	}
	if logLevel == "" {
		logLevel = "info"
	}

	logFile := cliLogFile
	if logFile == "" {
		logFile = os.Getenv(logFileEnvVar)
	}

	logFormat := cliLogFormat
	if logFormat == "" {
		logFormat = os.Getenv(logFormatEnvVar)
	}
	if logFormat == "" {
		logFormat = defaultLogFormat
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	var output *os.File
	var cleanup func()
	if logFile != "" {
		file, cleanupFn, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(level, output, logFormat)
	return cleanup, nil
}
