package execution

import (
	"fmt"
	"sync"

	"github.com/petrijr/sisu/pkg/api"
)

type workflowRegistry struct {
	mu     sync.RWMutex
	byName map[string]api.WorkflowFactory
}

func newWorkflowRegistry() *workflowRegistry {
	return &workflowRegistry{
		byName: make(map[string]api.WorkflowFactory),
	}
}

func (r *workflowRegistry) Register(typeName string, factory api.WorkflowFactory) error {
	if typeName == "" {
		return fmt.Errorf("workflow type name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("workflow %q has nil factory", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[typeName]; exists {
		return fmt.Errorf("workflow %q already registered", typeName)
	}
	r.byName[typeName] = factory
	return nil
}

func (r *workflowRegistry) Get(typeName string) (api.WorkflowFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.byName[typeName]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", typeName)
	}
	return factory, nil
}
