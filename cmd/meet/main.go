package main

import (
	"context"
	"os"
	"time"

	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/coordinator"
	"github.com/giongto35/cloud-meet/pkg/logger"
	cmos "github.com/giongto35/cloud-meet/pkg/os"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

// confPath reads the config file path before the rest of the flags,
// their defaults come from that file.
func confPath(args []string) string {
	fs := flag.NewFlagSet("conf", flag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.StringP("c-conf", "c", "", "Config file path")
	_ = fs.Parse(args)
	return *path
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	conf, src, err := config.NewMeetConfig(confPath(os.Args[1:]))
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config load fail")
	}
	flag.StringP("c-conf", "c", "", "Config file path")
	conf.WithFlags(flag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Meet.Debug, "m", false)
	log.Info().Msgf("version %s", Version)
	log.Info().Msgf("config: %v", src)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf.Redacted())
	}

	c, err := coordinator.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init fail")
	}
	c.Start()

	<-cmos.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
