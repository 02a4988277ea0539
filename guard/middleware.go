package guard

import (
	"context"
	"net"
	"net/http"

	"github.com/autorent-leon/consoleauth"
)

type routeContextKey struct{}

// RouteFromContext returns the route the middleware resolved for the
// request.
func RouteFromContext(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeContextKey{}).(Route)
	return r, ok
}

// Middleware guards every request with g. Redirect decisions become 303
// responses to the decision's location; an allowed request reaches next
// with its Route in the context. A request for an unknown or non-canonical
// path is redirected to the resolved route.
func Middleware(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := consoleauth.WithUserAgent(r.Context(), r.UserAgent())
			if ip := clientIP(r); ip != "" {
				ctx = consoleauth.WithClientIP(ctx, ip)
			}

			route, d := g.Navigate(ctx, r.URL.Path)
			if !d.Allowed() || d.Route != r.URL.Path {
				http.Redirect(w, r, d.Location(), http.StatusSeeOther)
				return
			}

			ctx = context.WithValue(ctx, routeContextKey{}, route)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
