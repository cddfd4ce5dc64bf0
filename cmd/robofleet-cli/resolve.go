package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/robofleet/internal/rpc"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

func resolveNamedID(kind, input string, options map[string]string) (string, error) {
	needle := normalizeName(input)
	for label, id := range options {
		if normalizeName(label) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(options))
	for label := range options {
		available = append(available, label)
	}
	sort.Strings(available)
	return "", fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}

// resolveRobot accepts a robot id or display name.
func resolveRobot(ctx context.Context, client *rpc.Client, input string) string {
	list, err := client.Robots(ctx)
	if err != nil {
		fatal("list robots", err)
	}
	options := make(map[string]string, len(list.Robots))
	for _, robot := range list.Robots {
		if robot.ID == input {
			return robot.ID
		}
		if robot.Static.Name != "" {
			options[robot.Static.Name] = robot.ID
		}
		options[robot.ID] = robot.ID
	}
	id, err := resolveNamedID("robot", input, options)
	if err != nil {
		fatal("resolve robot", err)
	}
	return id
}
