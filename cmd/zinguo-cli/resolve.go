package main

import (
	"fmt"
	"strings"

	"github.com/joshp123/zinguo/plugins/zinguo"
)

// normalizeName folds case and treats spaces, dashes and underscores alike.
func normalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// resolveSwitch accepts a switch key or its short form ("wind", "warming 1").
func resolveSwitch(input string) (zinguo.SwitchKey, error) {
	needle := normalizeName(input)
	available := make([]string, 0, len(zinguo.SwitchKeys()))
	for _, key := range zinguo.SwitchKeys() {
		short := strings.Replace(string(key), "_switch", "", 1)
		if needle == string(key) || needle == short {
			return key, nil
		}
		available = append(available, short)
	}
	return "", fmt.Errorf("switch %q not found. Available: %s", input, strings.Join(available, ", "))
}
