package config

import (
	"flag"
	"os"
	"time"

	"github.com/verifai/verifai/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          HTTP bind address (e.g., ":8080")
//	-d string          PostgreSQL DSN
//	-secret string     shared secret for the analyzer callback
//	-inference string  base URL of the analysis service
//	-callback string   public base URL of this server
//	-ttl int           report TTL, hours
//	-sweep int         sweeper interval, minutes
//	-limit int         daily request limit per client
//	-burst int         burst interval, seconds
//	-mode string       dispatch mode: direct or queue
//	-amqp string       AMQP connection URL
//	-u, -p, -b, -g, -e S3 user/password/bucket/region/endpoint
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-secret", "-inference", "-callback", "-ttl", "-sweep",
		"-limit", "-burst", "-mode", "-amqp", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SharedSecret, "secret", config.SharedSecret, "analyzer shared secret")
	fs.StringVar(&config.InferenceURL, "inference", config.InferenceURL, "analysis service base URL")
	fs.StringVar(&config.CallbackBaseURL, "callback", config.CallbackBaseURL, "public callback base URL")

	reportTTLHours := fs.Int("ttl", int(config.ReportTTL.Hours()), "report TTL (in hours)")
	sweepMinutes := fs.Int("sweep", int(config.SweepInterval.Minutes()), "sweep interval (in minutes)")
	fs.Int64Var(&config.DailyRequestLimit, "limit", config.DailyRequestLimit, "daily request limit per client")
	burstSeconds := fs.Int("burst", int(config.BurstInterval.Seconds()), "burst interval (in seconds)")

	fs.StringVar(&config.DispatchMode, "mode", config.DispatchMode, "dispatch mode: direct or queue")
	fs.StringVar(&config.AMQPURL, "amqp", config.AMQPURL, "AMQP connection URL")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ReportTTL = time.Duration(*reportTTLHours) * time.Hour
	config.SweepInterval = time.Duration(*sweepMinutes) * time.Minute
	config.BurstInterval = time.Duration(*burstSeconds) * time.Second
}
