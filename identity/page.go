package identity

import (
	"context"
	"errors"

	"printmaster/telemetry/common/logger"
	"printmaster/telemetry/common/storage"
	"printmaster/telemetry/webui"
)

// ConsolePages fetches the informational pages of a device console after
// logging in with the maintenance account. Each call uses its own session.
type ConsolePages struct {
	cfg webui.Config
}

// NewConsolePages builds a PageSource over the console configuration.
func NewConsolePages(cfg webui.Config) *ConsolePages {
	if len(cfg.InfoPaths) == 0 {
		cfg.InfoPaths = webui.DefaultConfig().InfoPaths
	}
	return &ConsolePages{cfg: cfg}
}

// Pages returns the bodies of every info page that could be fetched.
func (c *ConsolePages) Pages(ctx context.Context, device *storage.Device) ([]string, error) {
	sess, err := webui.Login(ctx, c.cfg.BaseURL(device.IP), c.cfg)
	if err != nil {
		return nil, err
	}
	var bodies []string
	var errs []error
	for _, path := range c.cfg.InfoPaths {
		body, err := sess.Fetch(ctx, path)
		if err != nil {
			errs = append(errs, err)
			if logger.Global != nil {
				logger.Global.TraceTag("identity", "Info page fetch failed", "ip", device.IP, "path", path, "error", err.Error())
			}
			continue
		}
		bodies = append(bodies, body)
	}
	if len(bodies) == 0 {
		return nil, errors.Join(errs...)
	}
	return bodies, nil
}
