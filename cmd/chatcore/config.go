package main

import "time"

type Config struct {
	ConnectionBuffer    int           `env:"CONNECTION_BUFFER_SIZE,required=true"`
	LimitMessages       *int          `env:"LIMIT_MESSAGES"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,required=true"`
	HealthInterval      time.Duration `env:"HEALTH_INTERVAL,required=true"`
	TypingIdleTimeout   time.Duration `env:"TYPING_IDLE_TIMEOUT,default=3s"`
	SimulatedLatencyMax time.Duration `env:"SIMULATED_LATENCY_MAX"`
	AuthTokenDuration   time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	AuthTokenSecret     string        `env:"AUTH_TOKEN_SECRET,required=true"`
	AttachmentBaseURL   string        `env:"ATTACHMENT_BASE_URL,default=http://localhost:8080/files"`
	BadgerFilepath      string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel            string        `env:"LOG_LEVEL,required=true"`
	Host                string        `env:"HOST,default=localhost"`
	Port                int           `env:"PORT,default=8080"`
}
