package cmd

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/parley/cli/config"
)

// loadConfig loads --config, or ./parley.yaml when present. A nil config
// with a nil error means there is none.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.Discover(c.String("config"))
}

// configVal reads a field from a possibly nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set on the command line, else the
// config value when non-empty, else the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) || cfgVal == "" {
		return c.String(name)
	}
	return cfgVal
}

// resolveInt is resolveString for ints. A zero config value counts as unset.
func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Int(name)
	}
	return cfgVal
}

// resolveIntPtr is resolveInt for config fields where zero is meaningful.
func resolveIntPtr(c *cli.Context, name string, cfgVal *int) int {
	if c.IsSet(name) || cfgVal == nil {
		return c.Int(name)
	}
	return *cfgVal
}

// resolveBool lets a true config value stand in for an unset flag.
func resolveBool(c *cli.Context, name string, cfgVal bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return cfgVal || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, cfgVal time.Duration) time.Duration {
	if c.IsSet(name) || cfgVal == 0 {
		return c.Duration(name)
	}
	return cfgVal
}

// resolveHeaders merges config headers with repeatable key=value flags.
// Flags win on conflicting keys.
func resolveHeaders(c *cli.Context, name string, cfgVal map[string]string) (map[string]string, error) {
	headers := make(map[string]string, len(cfgVal))
	maps.Copy(headers, cfgVal)
	for _, h := range c.StringSlice(name) {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --%s %q: expected key=value", name, h)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(headers) == 0 {
		return nil, nil
	}
	return headers, nil
}
