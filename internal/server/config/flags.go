package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/osfrelay/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   OSF token encryption key
//	-o string   OSF API base URL
//	-t int      OSF request timeout, seconds
//	-l float    OSF requests per second
//	-n uint     retry attempts
//	-w int      initial retry delay, milliseconds
//	-v string   log level
//
// Notes:
//   - os.Args is filtered with flagx.FilterArgs first so the -c/-config
//     flag consumed by the JSON layer does not break parsing.
//   - Duration flags are integers and are converted to time.Duration;
//     they override the current value only when passed.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-o", "-t", "-l", "-n", "-w", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.TokenEncryptionKey, "k", config.TokenEncryptionKey, "OSF token encryption key")
	fs.StringVar(&config.OSFBaseURL, "o", config.OSFBaseURL, "OSF API base URL")

	osfRequestTimeout := fs.Int("t", int(config.OSFRequestTimeout.Seconds()), "OSF request timeout (in seconds)")
	fs.Float64Var(&config.OSFRateLimit, "l", config.OSFRateLimit, "OSF requests per second")
	fs.UintVar(&config.RetryAttempts, "n", config.RetryAttempts, "retry attempts")
	retryDelay := fs.Int("w", int(config.RetryDelay.Milliseconds()), "initial retry delay (in milliseconds)")

	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// integer flags lose sub-unit precision, so only explicit ones apply
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.OSFRequestTimeout = time.Duration(*osfRequestTimeout) * time.Second
		case "w":
			config.RetryDelay = time.Duration(*retryDelay) * time.Millisecond
		}
	})
}
