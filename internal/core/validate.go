package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	pluginIDPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)
	serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z0-9_]+)*\.[A-Z][A-Za-z0-9]*$`)
)

// ValidatePlugins checks the active plugins against each other and reports
// every problem at once. Service names are fully qualified and unique across
// plugins. Dashboard names are plain file names.
func ValidatePlugins(plugins []Plugin) error {
	var errs []error
	ids := make(map[string]bool)
	services := make(map[string]string)

	for _, plugin := range plugins {
		id := plugin.ID()
		if !pluginIDPattern.MatchString(id) {
			errs = append(errs, fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern))
			continue
		}
		if ids[id] {
			errs = append(errs, fmt.Errorf("plugin %s registered twice", id))
			continue
		}
		ids[id] = true

		manifest := plugin.Manifest()
		if manifest.PluginID != id {
			errs = append(errs, fmt.Errorf("plugin %s: manifest names %q", id, manifest.PluginID))
		}
		for _, svc := range manifest.Services {
			if !serviceNamePattern.MatchString(svc) {
				errs = append(errs, fmt.Errorf("plugin %s: service %q is not a qualified name", id, svc))
				continue
			}
			if owner, ok := services[svc]; ok {
				errs = append(errs, fmt.Errorf("plugin %s: service %s already served by %s", id, svc, owner))
				continue
			}
			services[svc] = id
		}

		names := make(map[string]bool)
		for _, dash := range plugin.Dashboards() {
			if dash.Name == "" || strings.ContainsAny(dash.Name, `/\`) || strings.HasPrefix(dash.Name, ".") {
				errs = append(errs, fmt.Errorf("plugin %s: bad dashboard name %q", id, dash.Name))
				continue
			}
			if names[dash.Name] {
				errs = append(errs, fmt.Errorf("plugin %s: dashboard %s listed twice", id, dash.Name))
			}
			names[dash.Name] = true
		}
	}
	return errors.Join(errs...)
}

// FilterPlugins keeps the compiled plugins that config enables, or all of them when all is set.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, all bool) []Plugin {
	if all {
		return compiled
	}
	out := make([]Plugin, 0, len(compiled))
	for _, plugin := range compiled {
		if enabled[plugin.ID()] {
			out = append(out, plugin)
		}
	}
	return out
}

// ValidateEnabledPlugins fails when config enables a plugin this build lacks.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, all bool) error {
	if all {
		return nil
	}
	known := make(map[string]bool, len(compiled))
	for _, plugin := range compiled {
		known[plugin.ID()] = true
	}
	for id, on := range enabled {
		if on && !known[id] {
			return fmt.Errorf("plugin %q is enabled in config but not compiled in", id)
		}
	}
	return nil
}
