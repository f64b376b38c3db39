package plugins

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/joshp123/zinguo/internal/config"
	"github.com/joshp123/zinguo/internal/core"
)

// Factory builds a plugin from the loaded config. ok is false when the
// config has no section for it.
type Factory func(cfg *config.Config, logger *slog.Logger) (plugin core.Plugin, ok bool)

var factories = map[string]Factory{}

// Register makes a plugin available to zinguod. It is called from init and
// panics on a duplicate id.
func Register(id string, factory Factory) {
	if _, dup := factories[id]; dup {
		panic(fmt.Sprintf("plugins: %s registered twice", id))
	}
	factories[id] = factory
}

// Names lists the compiled-in plugin ids in order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for id := range factories {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Compiled builds every plugin whose config section is present.
func Compiled(cfg *config.Config, logger *slog.Logger) []core.Plugin {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	var out []core.Plugin
	for _, id := range Names() {
		plugin, ok := factories[id](cfg, logger.With("plugin", id))
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
