package kernel

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"memebot/pkg/chat"
)

// ServiceRegistry is the in-memory chat.ServiceRegistry used by the kernel.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]any
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]any),
	}
}

// Register binds service to name. Names are write-once.
func (r *ServiceRegistry) Register(name string, service any) error {
	if name == "" {
		return fmt.Errorf("register service: empty name")
	}
	if isNilService(service) {
		return fmt.Errorf("register service %s: nil service", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("register service %s: %w", name, chat.ErrServiceAlreadyRegistered)
	}
	r.services[name] = service

	return nil
}

// Resolve returns the service registered under name.
func (r *ServiceRegistry) Resolve(name string) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve service: empty name")
	}

	r.mu.RLock()
	service, exists := r.services[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("resolve service %s: %w", name, chat.ErrServiceNotFound)
	}

	return service, nil
}

// Names lists registered service names in lexical order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)

	return names
}

// isNilService also rejects typed nil pointers hidden inside a non-nil interface.
func isNilService(service any) bool {
	if service == nil {
		return true
	}
	value := reflect.ValueOf(service)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}

var _ chat.ServiceRegistry = (*ServiceRegistry)(nil)
