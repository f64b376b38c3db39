package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// DashboardPrefix is where the HTTP server mounts embedded dashboards.
const DashboardPrefix = "/dashboards/"

func dashboardPath(pluginID, name string) string {
	return DashboardPrefix + pluginID + "/" + name + ".json"
}

// DashboardsMap keys every plugin dashboard by its URL path.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, plugin := range plugins {
		for _, dash := range plugin.Dashboards() {
			result[dashboardPath(plugin.ID(), dash.Name)] = dash.JSON
		}
	}
	return result
}

// WriteDashboards provisions dashboards under dir/<plugin>/<name>.json for
// Grafana's file provider. Files whose content is unchanged are left alone so
// Grafana does not reload them; the rest are replaced atomically. It returns
// how many files were written.
func WriteDashboards(dir string, plugins []Plugin) (int, error) {
	if dir == "" {
		return 0, nil
	}

	written := 0
	for _, plugin := range plugins {
		pluginDir := filepath.Join(dir, plugin.ID())
		for _, dash := range plugin.Dashboards() {
			path := filepath.Join(pluginDir, dash.Name+".json")
			if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, dash.JSON) {
				continue
			}
			if err := os.MkdirAll(pluginDir, 0o755); err != nil {
				return written, fmt.Errorf("create dashboard dir: %w", err)
			}
			if err := replaceFile(path, dash.JSON); err != nil {
				return written, fmt.Errorf("write dashboard %s: %w", path, err)
			}
			written++
		}
	}
	return written, nil
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dashboard-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
