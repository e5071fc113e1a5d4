package actions

import (
	"fmt"
	"sort"
	"sync"
)

// registration pairs an action with its guard rules and remembers the order
// it arrived in, so equal priorities stay stable across restarts.
type registration struct {
	action Action
	rules  []*Rule
	seq    int
}

// Group collects the actions of one object type under a shared name. The
// wire identity of an action is the composite "group__action_key".
type Group struct {
	Name       string
	ObjectType string

	regs []registration
}

// Registry holds every action group. Like the object registry it is built
// once at startup; duplicate names are a configuration error, not a merge.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

func NewRegistry() *Registry {
	return &Registry{groups: map[string]*Group{}}
}

// AddGroup creates a named group bound to an object type. An empty object
// type is allowed for groups whose actions do not target a row.
func (r *Registry) AddGroup(name string, objType string) (*Group, error) {
	if name == "" {
		return nil, fmt.Errorf("action group name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.groups[name]; exists {
		return nil, fmt.Errorf("action group %q registered twice", name)
	}
	g := &Group{Name: name, ObjectType: objType}
	r.groups[name] = g
	return g, nil
}

// Register adds an action and compiles its guard rules. Duplicate keys
// within a group are rejected.
func (g *Group) Register(a Action, rules ...*Rule) error {
	if a.Key() == "" {
		return fmt.Errorf("action in group %q has no key", g.Name)
	}
	for _, reg := range g.regs {
		if reg.action.Key() == a.Key() {
			return fmt.Errorf("action %s__%s registered twice", g.Name, a.Key())
		}
	}
	for _, rule := range rules {
		if err := CompileRule(rule); err != nil {
			return fmt.Errorf("action %s__%s: %w", g.Name, a.Key(), err)
		}
	}
	g.regs = append(g.regs, registration{action: a, rules: rules, seq: len(g.regs)})
	return nil
}

// MustRegister is Register for startup wiring, where a failure is fatal.
func (g *Group) MustRegister(a Action, rules ...*Rule) {
	if err := g.Register(a, rules...); err != nil {
		panic(err)
	}
}

func (r *Registry) Group(name string) (*Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// Resolve finds an action by its composite identity.
func (r *Registry) Resolve(group, key string) (*Group, Action, []*Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[group]
	if !ok {
		return nil, nil, nil, false
	}
	for _, reg := range g.regs {
		if reg.action.Key() == key {
			return g, reg.action, reg.rules, true
		}
	}
	return nil, nil, nil, false
}

// Groups returns all group names sorted.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sorted returns the group's actions by ascending priority, registration
// order breaking ties.
func (g *Group) sorted() []registration {
	regs := make([]registration, len(g.regs))
	copy(regs, g.regs)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].action.Priority() != regs[j].action.Priority() {
			return regs[i].action.Priority() < regs[j].action.Priority()
		}
		return regs[i].seq < regs[j].seq
	})
	return regs
}
