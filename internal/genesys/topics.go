package genesys

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// TopicSource yields the desired topic set. It is consulted once per
// reconnect cycle so topic changes take effect on the next subscribe phase.
type TopicSource interface {
	ListTopics(ctx context.Context) ([]string, error)
}

// StaticTopics is a fixed topic list.
type StaticTopics []string

func (s StaticTopics) ListTopics(context.Context) ([]string, error) {
	return []string(s), nil
}

// DiscoveredTopics selects AudioHook topics from the available-topics API,
// filtered by optional include/exclude patterns, falling back to a fixed list
// when discovery yields nothing or fails.
type DiscoveredTopics struct {
	client   *Client
	include  *regexp.Regexp
	exclude  *regexp.Regexp
	fallback []string
	log      *slog.Logger
}

// NewDiscoveredTopics compiles the include/exclude patterns (either may be
// empty) and wires discovery to the given client.
func NewDiscoveredTopics(client *Client, include, exclude string, fallback []string, log *slog.Logger) (*DiscoveredTopics, error) {
	d := &DiscoveredTopics{client: client, fallback: fallback, log: log}
	var err error
	if include != "" {
		if d.include, err = regexp.Compile("(?i)" + include); err != nil {
			return nil, fmt.Errorf("topic include pattern: %w", err)
		}
	}
	if exclude != "" {
		if d.exclude, err = regexp.Compile("(?i)" + exclude); err != nil {
			return nil, fmt.Errorf("topic exclude pattern: %w", err)
		}
	}
	return d, nil
}

// ListTopics never fails outright: a discovery error degrades to the fallback
// list so the relay keeps running on a reduced topic set.
func (d *DiscoveredTopics) ListTopics(ctx context.Context) ([]string, error) {
	all, err := d.client.AvailableTopics(ctx)
	if err != nil {
		d.log.Warn("topic discovery failed, using fallback topics", "error", err, "fallback", d.fallback)
		return append([]string(nil), d.fallback...), nil
	}

	var selected []string
	for _, id := range all {
		if !d.matches(id) {
			continue
		}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		d.log.Warn("no AudioHook topics discovered, using fallback topics", "fallback", d.fallback)
		return append([]string(nil), d.fallback...), nil
	}
	return selected, nil
}

func (d *DiscoveredTopics) matches(id string) bool {
	name := strings.ToLower(id)
	include := strings.Contains(name, "audiohook") ||
		(strings.Contains(name, "operational") && (strings.Contains(name, "audio") || strings.Contains(name, "hook")))
	if include && d.include != nil && !d.include.MatchString(id) {
		include = false
	}
	if include && d.exclude != nil && d.exclude.MatchString(id) {
		include = false
	}
	return include
}
