package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cschleiden/go-scaffolder/action"
)

type Registry struct {
	sync.Mutex

	actionMap map[string]*action.Action
}

// New creates a new registry instance.
func New() *Registry {
	return &Registry{
		actionMap: make(map[string]*action.Action),
	}
}

type registerConfig struct {
	ID string
}

// Register makes an action available to task steps. The action's input schema, if any, is
// compiled at registration time.
func (r *Registry) Register(a *action.Action, opts ...RegisterOption) error {
	if a == nil {
		return &ErrInvalidAction{"action is nil"}
	}

	cfg := registerOptions(opts).applyRegisterOptions(registerConfig{})
	id := cfg.ID
	if id == "" {
		id = a.ID
	}

	if id == "" {
		return &ErrInvalidAction{"action has no id"}
	}

	if a.Handler == nil {
		return &ErrInvalidAction{fmt.Sprintf("action %q has no handler", id)}
	}

	if err := a.Schema.Compile(); err != nil {
		return &ErrInvalidAction{fmt.Sprintf("action %q has an invalid schema: %v", id, err)}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.actionMap[id]; ok {
		return &ErrActionAlreadyRegistered{fmt.Sprintf("action with id %q already registered", id)}
	}
	r.actionMap[id] = a

	return nil
}

func (r *Registry) Get(id string) (*action.Action, error) {
	r.Lock()
	defer r.Unlock()

	if a, ok := r.actionMap[id]; ok {
		return a, nil
	}

	return nil, &ErrActionNotFound{ID: id}
}

// Actions returns the identifiers of all registered actions in sorted order.
func (r *Registry) Actions() []string {
	r.Lock()
	defer r.Unlock()

	ids := make([]string, 0, len(r.actionMap))
	for id := range r.actionMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
