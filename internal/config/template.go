package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# neotrader configuration

[trading]
mode = "live"              # "live" or "paper"
default_product = "NRML"   # NRML, MIS, CNC
default_exchange = "NSE"   # NSE, BSE, MCX

[feed]
max_retries = 10
base_delay_ms = 1000
max_delay_ms = 30000
backoff_growth = 2.0
`

const credentialsTemplate = `# neotrader brokerage credentials
# Keep this file private (mode 0600).

consumer_key = ""
environment = "prod"       # prod, stg, dev
mobile = ""                # +91XXXXXXXXXX
ucc = ""
mpin = ""
# totp_secret = ""         # optional: base32 secret for code auto-generation
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(configTemplate), 0644)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	path := filepath.Join(configDir, "credentials.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(credentialsTemplate), 0600)
}
