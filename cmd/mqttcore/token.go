package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/iot-mqtt-core/internal/admin"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
)

const defaultTokenTTL = 24 * time.Hour

var errNoJWTSecret = errors.New("admin.jwt_secret is not configured")

// issueToken implements "mqttcore token [-subject name] [-ttl 24h]": it
// prints an admin bearer token signed with the configured secret.
func issueToken(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(w)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := loadEnvFile(); err != nil {
		return err
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		return errNoJWTSecret
	}

	token, err := admin.NewToken(cfg.Admin.JWTSecret, *subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
