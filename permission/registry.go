package permission

import (
	"errors"
	"strings"
	"sync"
)

// Registry is the catalog of permission codes the console can ask about.
// Route tables are checked against it so a typo in a required permission
// fails at startup instead of locking users out at runtime.
type Registry struct {
	mu     sync.RWMutex
	index  map[string]int
	codes  []string
	frozen bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// NewDefaultRegistry returns a frozen Registry holding [DefaultCodes].
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, code := range DefaultCodes() {
		_, _ = r.Register(code)
	}
	r.Freeze()
	return r
}

// Register adds code and returns its position in the catalog. Codes use the
// "<app>.<action>_<model>" form.
func (r *Registry) Register(code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return -1, errors.New("permission code cannot be empty")
	}
	if app, codename, ok := strings.Cut(code, "."); !ok || app == "" || codename == "" {
		return -1, errors.New("permission code must look like app.codename: " + code)
	}

	if _, exists := r.index[code]; exists {
		return -1, errors.New("permission already registered: " + code)
	}

	pos := len(r.codes)
	r.index[code] = pos
	r.codes = append(r.codes, code)
	return pos, nil
}

// Known reports whether code was registered.
func (r *Registry) Known(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[code]
	return ok
}

// Index returns the catalog position of code.
func (r *Registry) Index(code string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[code]
	return i, ok
}

// Codes returns the registered codes in registration order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered codes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}

var defaultModels = []string{
	"user",
	"customer",
	"branch",
	"vehicle",
	"vehiclemodel",
	"vehiclecategory",
	"brand",
	"rental",
	"invoice",
	"payment",
}

var defaultActions = []string{"view", "add", "change", "delete"}

// DefaultCodes lists the view/add/change/delete codes of every entity the
// rental console manages, e.g. "vehicle.view_vehicle".
func DefaultCodes() []string {
	out := make([]string, 0, len(defaultModels)*len(defaultActions))
	for _, model := range defaultModels {
		for _, action := range defaultActions {
			out = append(out, model+"."+action+"_"+model)
		}
	}
	return out
}
