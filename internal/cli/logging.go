package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"fxcore/internal/config"
	"fxcore/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Worker id: %d", cfg.WorkerID),
		fmt.Sprintf("State store: %s", storeLine(cfg.Store)),
		fmt.Sprintf("Queue: %s", presence(!cfg.Queue.InMemory())),
		fmt.Sprintf("Feed: %s (%d symbols, freshness %s)", presence(strings.TrimSpace(cfg.Feed.URL) != ""), len(cfg.Feed.Symbols), cfg.Feed.Freshness()),
		fmt.Sprintf("Listener: %s", listenerLine(cfg.Listener)),
		fmt.Sprintf("Trigger: %d partitions, lease %s", cfg.Trigger.Partitions, cfg.Trigger.LeaseTTL()),
		fmt.Sprintf("Portfolio: flush %s, cutoff %s", cfg.Portfolio.FlushInterval(), cfg.Portfolio.Cutoff()),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		sectionLine("Providers config", cfg.Providers),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func storeLine(sc config.StoreConf) string {
	if sc.InMemory() {
		return "in-memory"
	}
	return fmt.Sprintf("%d node(s)", len(sc.Addrs))
}

func listenerLine(lc config.ListenerConf) string {
	if !lc.Enabled() {
		return "disabled"
	}
	return fmt.Sprintf("%s %s", lc.Network, lc.Address)
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
