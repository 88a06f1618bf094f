// Command devicetoken mints a bearer token a tracker can present to /upload
// instead of the shared ingest secret.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gps-relay/internal/auth"
	"gps-relay/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	deviceID := flag.String("device", "", "device id the token is bound to")
	expiry := flag.Duration("expiry", cfg.DeviceTokenExpiry, "token lifetime (default from DEVICE_TOKEN_EXPIRY_HOURS)")
	flag.Parse()

	if *deviceID == "" {
		flag.Usage()
		os.Exit(2)
	}

	tok, err := mint(cfg, *deviceID, *expiry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}

func mint(cfg config.Config, deviceID string, expiry time.Duration) (string, error) {
	if cfg.IngestSecret == "" {
		return "", errors.New("INGEST_SECRET is not set")
	}
	tokenCfg := auth.DefaultTokenConfig(cfg.IngestSecret)
	tokenCfg.Expiry = expiry
	return auth.CreateDeviceToken(deviceID, tokenCfg)
}
