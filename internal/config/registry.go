package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ilxomkh/survey/pkg/device"
)

// ErrDeviceNotRegistered is returned by Create* methods when no factory has
// been registered under the requested device name.
var ErrDeviceNotRegistered = errors.New("config: device not registered")

// Registry maps device names to their constructor functions for each device
// kind. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	recorders map[string]func(DeviceEntry) (device.Recorder, error)
	locators  map[string]func(DeviceEntry) (device.Locator, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recorders: make(map[string]func(DeviceEntry) (device.Recorder, error)),
		locators:  make(map[string]func(DeviceEntry) (device.Locator, error)),
	}
}

// RegisterRecorder registers a recorder factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecorder(name string, factory func(DeviceEntry) (device.Recorder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorders[name] = factory
}

// RegisterLocator registers a locator factory under name.
func (r *Registry) RegisterLocator(name string, factory func(DeviceEntry) (device.Locator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locators[name] = factory
}

// CreateRecorder constructs the recorder selected by entry.Name.
func (r *Registry) CreateRecorder(entry DeviceEntry) (device.Recorder, error) {
	r.mu.RLock()
	factory, ok := r.recorders[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recorder %q", ErrDeviceNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLocator constructs the locator selected by entry.Name.
func (r *Registry) CreateLocator(entry DeviceEntry) (device.Locator, error) {
	r.mu.RLock()
	factory, ok := r.locators[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: locator %q", ErrDeviceNotRegistered, entry.Name)
	}
	return factory(entry)
}
