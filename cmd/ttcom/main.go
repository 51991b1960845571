package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	ttcom "github.com/masonasons/TTCom-Fork"
)

func main() {
	debflag := flag.Bool("debug", false, "Debug logging")
	confPath := flag.String("conf", "ttcom.conf", "Configuration file")
	noAuto := flag.Bool("n", false, "Skip all autoLogin processing")
	httpAddr := flag.String("http", "", "Metrics/health listen address, like :8080; empty disables")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.000",
	}).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	if *debflag {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	app, err := ttcom.NewApp(*confPath)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		os.Exit(1)
	}
	// Naming servers on the command line logs into just those, like -n
	// plus explicit logins.
	logins := flag.Args()
	if len(logins) > 0 {
		app.NoAutoLogins = true
	} else {
		app.NoAutoLogins = *noAuto
	}

	if *httpAddr != "" {
		go httpServer(*httpAddr)
	}

	if err := app.ReadServers(logins); err != nil {
		log.Error().Err(err).Msg("Configuration failed")
		app.Close()
		os.Exit(1)
	}
	if len(logins) > 0 {
		if err := app.SetCurrent(logins[len(logins)-1]); err != nil {
			log.Warn().Err(err).Msg("Current server not set")
		}
	}
	log.Info().Str("conf", *confPath).
		Str("servers", strings.Join(app.Registry().Shortnames(), ",")).
		Msg("Running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")
	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

func httpServer(address string) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("Alive"))
	})
	log.Info().Msgf("Http server started address=%s", address)
	http.ListenAndServe(address, nil)
}
