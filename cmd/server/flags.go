package main

import (
	"github.com/urfave/cli/v2"

	"github.com/fablecraft/realtime-core/internal/server"
)

var opts struct {
	Config   server.Config
	LogLevel string
	Console  bool
}

func flags() []cli.Flag {
	def := server.DefaultConfig()
	opts.Config = def

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "port",
			Usage:       "address to listen on",
			Value:       def.Port,
			EnvVars:     []string{"SERVER_PORT"},
			Destination: &opts.Config.Port,
		},
		&cli.StringSliceFlag{
			Name:    "allowed-origins",
			Usage:   "origins allowed to open websockets, or *",
			Value:   cli.NewStringSlice(def.AllowedOrigins...),
			EnvVars: []string{"ALLOWED_ORIGINS"},
		},
		&cli.Int64Flag{
			Name:        "max-message-size",
			Usage:       "largest inbound frame in bytes",
			Value:       def.MaxMessageSize,
			EnvVars:     []string{"MAX_MESSAGE_SIZE"},
			Destination: &opts.Config.MaxMessageSize,
		},
		&cli.IntFlag{
			Name:        "rate-limit-burst",
			Usage:       "inbound messages allowed per refill interval",
			Value:       def.RateLimit.Burst,
			EnvVars:     []string{"RATE_LIMIT_BURST"},
			Destination: &opts.Config.RateLimit.Burst,
		},
		&cli.DurationFlag{
			Name:        "rate-limit-refill-interval",
			Usage:       "interval over which the burst refills",
			Value:       def.RateLimit.RefillInterval,
			EnvVars:     []string{"RATE_LIMIT_REFILL_INTERVAL"},
			Destination: &opts.Config.RateLimit.RefillInterval,
		},
		&cli.IntFlag{
			Name:        "send-buffer",
			Usage:       "outbound frames queued per connection",
			Value:       def.SendBufferSize,
			EnvVars:     []string{"SEND_BUFFER_SIZE"},
			Destination: &opts.Config.SendBufferSize,
		},
		&cli.DurationFlag{
			Name:        "write-timeout",
			Usage:       "bound on a single outbound write",
			Value:       def.WriteTimeout,
			EnvVars:     []string{"WRITE_TIMEOUT"},
			Destination: &opts.Config.WriteTimeout,
		},
		&cli.DurationFlag{
			Name:        "heartbeat-interval",
			Usage:       "how often connections are pinged",
			Value:       def.HeartbeatInterval,
			EnvVars:     []string{"HEARTBEAT_INTERVAL"},
			Destination: &opts.Config.HeartbeatInterval,
		},
		&cli.DurationFlag{
			Name:        "heartbeat-timeout",
			Usage:       "silence after which a connection is evicted",
			Value:       def.HeartbeatTimeout,
			EnvVars:     []string{"HEARTBEAT_TIMEOUT"},
			Destination: &opts.Config.HeartbeatTimeout,
		},
		&cli.DurationFlag{
			Name:        "flow-timeout",
			Usage:       "upper bound on a progress flow, 0 for none",
			Value:       def.FlowTimeout,
			EnvVars:     []string{"FLOW_TIMEOUT"},
			Destination: &opts.Config.FlowTimeout,
		},
		&cli.DurationFlag{
			Name:        "flow-step-interval",
			Usage:       "delay between progress messages",
			Value:       def.FlowStepInterval,
			EnvVars:     []string{"FLOW_STEP_INTERVAL"},
			Destination: &opts.Config.FlowStepInterval,
		},
		&cli.DurationFlag{
			Name:        "typing-ttl",
			Usage:       "lifetime of a typing indicator without refresh",
			Value:       def.TypingTTL,
			EnvVars:     []string{"TYPING_TTL"},
			Destination: &opts.Config.TypingTTL,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "grace period for shutdown",
			Value:       def.ShutdownTimeout,
			EnvVars:     []string{"SHUTDOWN_TIMEOUT"},
			Destination: &opts.Config.ShutdownTimeout,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error",
			Value:       "info",
			EnvVars:     []string{"LOG_LEVEL"},
			Destination: &opts.LogLevel,
		},
		&cli.BoolFlag{
			Name:        "console",
			Usage:       "human-readable log output",
			EnvVars:     []string{"CONSOLE"},
			Destination: &opts.Console,
		},
	}
}

// config returns the parsed configuration.
func config(c *cli.Context) server.Config {
	cfg := opts.Config
	cfg.AllowedOrigins = c.StringSlice("allowed-origins")
	return cfg.Sanitize()
}
