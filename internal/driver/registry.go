package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/d21d3q/gosmartmeter/internal/cosem"
	"github.com/d21d3q/gosmartmeter/internal/crypto"
)

// ErrUnknownProfile is returned by Lookup for names nobody registered.
var ErrUnknownProfile = errors.New("meter profile not found")

// Driver decodes the notifications of one meter profile.
type Driver interface {
	Name() string
	Layout() crypto.Layout
	Process(context.Context, crypto.Plaintext) ([]cosem.Measurement, error)
}

var (
	regMu    sync.RWMutex
	registry = map[string]Driver{}
)

// Register stores a driver under its name. A later registration with the
// same name replaces the earlier one.
func Register(drv Driver) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[drv.Name()] = drv
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, error) {
	regMu.RLock()
	defer regMu.RUnlock()
	drv, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return drv, nil
}

// Names lists registered profiles in sorted order.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
