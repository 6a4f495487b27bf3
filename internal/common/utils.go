package common

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"

	"github.com/dtnitsch/regscrape/models"
	"github.com/urfave/cli/v2"
)

// NewLogger builds the JSON logger every command writes to stderr.
// --quiet keeps errors only; --verbose adds per-item debug lines.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig reads --config and applies the command-line overrides that
// every scrape-related command shares.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("scrape-dir") {
		cfg.ScrapeDir = c.String("scrape-dir")
	}
	if c.IsSet("cache") {
		cfg.Cache.Backend = c.String("cache")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ContentHash computes SHA256 hash of content and returns hex string.
func ContentHash(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
