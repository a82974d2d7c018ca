package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on and reports every
// problem at once. Modes: serve, analyze, match, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}

	if m := c.Matching; m.EnsureThreshold < 0 || m.EnsureThreshold > 1 {
		errs = append(errs, "matching.ensure_threshold must be between 0 and 1")
	}

	switch mode {
	case "migrate", "match":
	case "serve", "analyze":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if w := c.Analysis.MaxWorkers; w < 1 || w > 64 {
			errs = append(errs, "analysis.max_workers must be between 1 and 64")
		}
		if c.Analysis.JobTimeoutSecs <= 0 {
			errs = append(errs, "analysis.job_timeout_secs must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
