package commands

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/boostclear/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
}

// setupLogging installs the process logger as the global and context default.
func setupLogging(globals *Globals) zerolog.Logger {
	l := logger.Setup(globals.Debug)
	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
