package plugins

import (
	"log/slog"

	"github.com/joshp123/zinguo/internal/config"
	"github.com/joshp123/zinguo/internal/core"
	"github.com/joshp123/zinguo/plugins/zinguo"
)

func init() {
	Register("zinguo", func(cfg *config.Config, logger *slog.Logger) (core.Plugin, bool) {
		plugin, ok := zinguo.NewPlugin(cfg, logger)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
