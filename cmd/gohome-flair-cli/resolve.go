package main

import (
	"fmt"
	"sort"
	"strings"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveDevice accepts a device id or a case-insensitive device name.
func resolveDevice(input string, byName map[string]string) (string, error) {
	needle := normalizeName(input)
	for name, id := range byName {
		if id == input || normalizeName(name) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(byName))
	for name := range byName {
		available = append(available, name)
	}
	sort.Strings(available)
	return "", fmt.Errorf("thermostat %q not found. Available: %s", input, strings.Join(available, ", "))
}
