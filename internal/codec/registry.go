package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RezaEskandarii/firequeue/types"
)

// Factory returns a fresh, zero valued pointer of a job type for the decoder to fill.
type Factory func() types.Job

// Registry maps job type tags to factories.
type Registry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a new job factory by name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("job must have a name and a factory")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("job '%s' already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// RegisterType registers *T under the name its zero value reports.
func RegisterType[T any, PT interface {
	*T
	types.Job
}](r *Registry) error {
	var zero T
	return r.Register(PT(&zero).Name(), func() types.Job {
		return PT(new(T))
	})
}

// MustRegisterType is RegisterType for program setup; it panics on a duplicate name.
func MustRegisterType[T any, PT interface {
	*T
	types.Job
}](r *Registry) {
	if err := RegisterType[T, PT](r); err != nil {
		panic(err)
	}
}

func (r *Registry) Exists(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.factories[name]
	return exists
}

func (r *Registry) New(name string) (types.Job, error) {
	r.mutex.RLock()
	factory, exists := r.factories[name]
	r.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("job '%s' not registered", name)
	}
	return factory(), nil
}

func (r *Registry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
