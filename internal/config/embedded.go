package config

// Values injected at build time via ldflags. EmbeddedHost serves as the
// default service host and can be overridden by environment variables,
// config file or flags.
//
// Build with:
//   go build -ldflags "-X 'github.com/sendgrab/sendgrab/internal/config.Version=1.2.0' \
//                      -X 'github.com/sendgrab/sendgrab/internal/config.EmbeddedHost=acme.sendsafely.com'"
var (
	Version      = "dev"
	EmbeddedHost string
)
