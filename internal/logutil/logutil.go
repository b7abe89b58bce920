// Package logutil centralizes zap logger construction for the CLI and
// demo binaries. Library packages take a *zap.Logger and never build one.
package logutil

import (
	"os"

	"go.uber.org/zap"
)

// New returns a development-friendly logger when verbose is set, a no-op
// logger otherwise. RAFTCLIENT_LOG_JSON=1 switches verbose output to the
// production JSON encoder.
func New(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	var (
		log *zap.Logger
		err error
	)
	if os.Getenv("RAFTCLIENT_LOG_JSON") == "1" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}
