package guard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/autorent-leon/consoleauth"
	"github.com/autorent-leon/consoleauth/permission"
)

var (
	// ErrUnknownPermission is returned when a route requires a code the
	// permission catalog does not know.
	ErrUnknownPermission = errors.New("route requires unknown permission")
	// ErrDuplicateRoute is returned for a repeated route name or path.
	ErrDuplicateRoute = errors.New("duplicate route")
	// ErrUnknownRoute is returned for an override naming no route.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrNoErrorRoute is returned when the table has no route for unknown paths.
	ErrNoErrorRoute = errors.New("route table has no error route")
)

// Route names.
const (
	RouteDashboard     = "dashboard"
	RouteTables        = "tables"
	RouteForms         = "forms"
	RouteProfile       = "profile"
	RouteCustomers     = "customers"
	RouteBranches      = "branches"
	RouteVehicleModels = "vehiclemodels"
	RouteVehicles      = "vehicles"
	RouteBrands        = "brands"
	RouteCategories    = "categories"
	RouteRentals       = "rentals"
	RouteInvoices      = "invoices"
	RouteLogin         = "login"
	RouteRegister      = "register"
	RouteError         = "error"
	RouteUnauthorized  = "unauthorized"
)

// Route is one navigable view of the console.
type Route struct {
	Name               string
	Path               string
	Title              string
	Secure             bool
	RequiredPermission string
}

// DefaultRoutes returns the console's routes. The auth-related paths come
// from paths.
func DefaultRoutes(paths consoleauth.RoutesConfig) []Route {
	return []Route{
		{Name: RouteDashboard, Path: paths.Dashboard, Title: "Dashboard", Secure: true},
		{Name: RouteTables, Path: "/tables", Title: "Users", Secure: true, RequiredPermission: "user.view_user"},
		{Name: RouteForms, Path: "/forms", Title: "Forms", Secure: true},
		{Name: RouteProfile, Path: "/profile", Title: "Profile", Secure: true},
		{Name: RouteCustomers, Path: "/customers", Title: "Customers", Secure: true, RequiredPermission: "customer.view_customer"},
		{Name: RouteBranches, Path: "/branches", Title: "Branches", Secure: true, RequiredPermission: "branch.view_branch"},
		{Name: RouteVehicleModels, Path: "/vehiclemodels", Title: "Models", Secure: true, RequiredPermission: "vehiclemodel.view_vehiclemodel"},
		{Name: RouteVehicles, Path: "/vehicles", Title: "Vehicles", Secure: true, RequiredPermission: "vehicle.view_vehicle"},
		{Name: RouteBrands, Path: "/brands", Title: "Brands", Secure: true, RequiredPermission: "brand.view_brand"},
		{Name: RouteCategories, Path: "/categories", Title: "Categories", Secure: true, RequiredPermission: "vehiclecategory.view_vehiclecategory"},
		{Name: RouteRentals, Path: "/rentals", Title: "Rentals", Secure: true, RequiredPermission: "rental.view_rental"},
		{Name: RouteInvoices, Path: "/invoices", Title: "Invoices", Secure: true, RequiredPermission: "invoice.view_invoice"},
		{Name: RouteLogin, Path: paths.Login, Title: "Login"},
		{Name: RouteRegister, Path: paths.Register, Title: "Register"},
		{Name: RouteError, Path: paths.Error, Title: "Error"},
		{Name: RouteUnauthorized, Path: paths.Unauthorized, Title: "Unauthorized"},
	}
}

// ApplyOverrides returns a copy of routes with the required permission of
// each named route replaced.
func ApplyOverrides(routes []Route, overrides map[string]string) ([]Route, error) {
	out := append([]Route(nil), routes...)
	for name, code := range overrides {
		found := false
		for i := range out {
			if out[i].Name == name {
				out[i].RequiredPermission = code
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, name)
		}
	}
	return out, nil
}

// Table resolves paths to routes.
type Table struct {
	routes     []Route
	byPath     map[string]int
	byName     map[string]int
	errorRoute Route
}

// NewTable validates routes and indexes them. errorPath must be one of the
// routes; unknown paths resolve to it. When registry is non-nil every
// required permission must be known to it.
func NewTable(routes []Route, errorPath string, registry *permission.Registry) (*Table, error) {
	t := &Table{
		routes: make([]Route, 0, len(routes)),
		byPath: make(map[string]int, len(routes)),
		byName: make(map[string]int, len(routes)),
	}
	for _, r := range routes {
		r.Path = normalize(r.Path)
		if r.Name == "" {
			return nil, fmt.Errorf("route %s has no name", r.Path)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, fmt.Errorf("%w: name %q", ErrDuplicateRoute, r.Name)
		}
		if _, dup := t.byPath[r.Path]; dup {
			return nil, fmt.Errorf("%w: path %q", ErrDuplicateRoute, r.Path)
		}
		if r.RequiredPermission != "" && registry != nil && !registry.Known(r.RequiredPermission) {
			return nil, fmt.Errorf("%w: route %s requires %q", ErrUnknownPermission, r.Name, r.RequiredPermission)
		}
		t.byName[r.Name] = len(t.routes)
		t.byPath[r.Path] = len(t.routes)
		t.routes = append(t.routes, r)
	}

	i, ok := t.byPath[normalize(errorPath)]
	if !ok {
		return nil, ErrNoErrorRoute
	}
	t.errorRoute = t.routes[i]
	return t, nil
}

// Resolve maps a location to its route. It accepts hash-router forms
// ("#/branches"), query strings and trailing slashes. ok is false when the
// error route was substituted for an unknown path.
func (t *Table) Resolve(location string) (Route, bool) {
	if i, ok := t.byPath[normalize(location)]; ok {
		return t.routes[i], true
	}
	return t.errorRoute, false
}

// Lookup returns the route with the given name.
func (t *Table) Lookup(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Routes returns a copy of the table in declaration order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

func normalize(location string) string {
	p := strings.TrimSpace(location)
	p = strings.TrimPrefix(p, "#")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
