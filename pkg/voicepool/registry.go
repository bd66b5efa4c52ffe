package voicepool

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var numericSuffix = regexp.MustCompile(`\s+\d+$`)

// Topic strips a trailing " <digits>" from a channel name.
func Topic(name string) string {
	return numericSuffix.ReplaceAllString(name, "")
}

// NumberedName builds the display name of the n-th instance of topic.
func NumberedName(topic string, n int) string {
	return topic + " " + strconv.Itoa(n)
}

type groupState string

const (
	stateIdle     groupState = "idle"
	stateDraining groupState = "draining"
)

// Group is one configured pattern together with its trigger queue.
type Group struct {
	pattern string
	matcher *regexp.Regexp

	mu       sync.Mutex
	queue    []Trigger
	draining bool
}

// Pattern returns the configured pattern, which is also the canonical topic.
func (g *Group) Pattern() string {
	return g.pattern
}

// Matches reports whether topic is governed by this group.
func (g *Group) Matches(topic string) bool {
	return g.matcher.MatchString(topic)
}

// Members filters channels down to this group's instances, keeping order.
func (g *Group) Members(channels []Channel) []Channel {
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if g.Matches(ch.Topic()) {
			out = append(out, ch)
		}
	}
	return out
}

// enqueue appends t and reports whether the caller must start a drain.
// The check-and-set of the draining flag shares the lock with the append.
func (g *Group) enqueue(t Trigger) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queue = append(g.queue, t)
	if g.draining {
		return false
	}
	g.draining = true
	return true
}

// next pops the head of the queue. When the queue is empty it flips the group
// back to idle under the same lock and returns false.
func (g *Group) next() (Trigger, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		g.draining = false
		return Trigger{}, false
	}
	t := g.queue[0]
	g.queue[0] = Trigger{}
	g.queue = g.queue[1:]
	return t, true
}

// abandon drops all pending triggers and returns the group to idle.
func (g *Group) abandon() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.queue)
	g.queue = nil
	g.draining = false
	return n
}

func (g *Group) snapshot() (groupState, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return stateDraining, len(g.queue)
	}
	return stateIdle, len(g.queue)
}

// Registry holds the configured groups in configuration order.
type Registry struct {
	groups []*Group
	byName map[string]*Group
}

// NewRegistry compiles one group per pattern. Duplicate patterns collapse.
func NewRegistry(patterns []string) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Group, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty channel pattern")
		}
		if _, exists := r.byName[p]; exists {
			continue
		}
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		g := &Group{pattern: p, matcher: re}
		r.groups = append(r.groups, g)
		r.byName[p] = g
	}
	return r, nil
}

// Lookup returns the group governing topic, or nil when none does.
// An exact pattern hit wins over a regex match.
func (r *Registry) Lookup(topic string) *Group {
	if g, ok := r.byName[topic]; ok {
		return g
	}
	for _, g := range r.groups {
		if g.Matches(topic) {
			return g
		}
	}
	return nil
}

// Get returns the group configured with exactly this pattern.
func (r *Registry) Get(pattern string) *Group {
	return r.byName[pattern]
}

// Groups returns the groups in configuration order.
func (r *Registry) Groups() []*Group {
	return append([]*Group(nil), r.groups...)
}
