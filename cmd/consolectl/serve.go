package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/autorent-leon/consoleauth"
	"github.com/autorent-leon/consoleauth/authapi/authapitest"
	"github.com/autorent-leon/consoleauth/guard"
	consoleprom "github.com/autorent-leon/consoleauth/metrics/export/prometheus"
	"github.com/autorent-leon/consoleauth/permission"
	"github.com/spf13/pflag"
)

// Demo accounts seeded into the fake backend.
const (
	demoAdminEmail = "admin@autorent.test"
	demoClerkEmail = "clerk@autorent.test"
	demoPassword   = "demo-password"
)

func (a *app) serve(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	addr := fs.String("addr", "127.0.0.1:8080", "listen address")
	demo := fs.Bool("demo", true, "run against a fake backend and in-process redis")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *demo {
		cleanup, err := a.startDemoBackends()
		if err != nil {
			return err
		}
		defer cleanup()
	}

	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	handler, err := newConsoleHandler(e, a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("console listening", "addr", *addr, "demo", *demo)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startDemoBackends points the config at a seeded fake API and a
// miniredis token store.
func (a *app) startDemoBackends() (func(), error) {
	api := authapitest.NewServer()
	api.AddUser(authapitest.User{
		Name: "Ada", LastName: "Admin", Email: demoAdminEmail, Password: demoPassword,
		Permissions: permission.All(),
	})
	api.AddUser(authapitest.User{
		Name: "Carl", LastName: "Clerk", Email: demoClerkEmail, Password: demoPassword,
		Permissions: permission.Of("rental.view_rental", "customer.view_customer", "vehicle.view_vehicle"),
	})

	mr, err := miniredis.Run()
	if err != nil {
		api.Close()
		return nil, fmt.Errorf("start miniredis: %w", err)
	}

	a.cfg.API.BaseURL = api.BaseURL()
	a.cfg.Storage.Backend = consoleauth.StorageRedis
	a.cfg.Storage.RedisAddr = mr.Addr()
	fmt.Fprintf(a.stdout, "demo accounts: %s, %s (password %q)\n", demoAdminEmail, demoClerkEmail, demoPassword)

	return func() {
		mr.Close()
		api.Close()
	}, nil
}

// newConsoleHandler mounts the guarded console pages plus an unguarded
// /metrics endpoint.
func newConsoleHandler(e *consoleauth.Engine, a *app) (http.Handler, error) {
	g, err := guard.ForEngine(e, guard.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	cfg := e.Config()

	pages := http.NewServeMux()
	pages.HandleFunc(cfg.Routes.Login, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if err := e.Login(r.Context(), r.FormValue("email"), r.FormValue("password")); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				renderLogin(w, cfg.Routes.Login, r.URL.Query().Get(consoleauth.QueryRedirect), consoleauth.UserMessage(err))
				return
			}
			target := r.URL.Query().Get(consoleauth.QueryRedirect)
			if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
				target = cfg.Routes.Dashboard
			}
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		renderLogin(w, cfg.Routes.Login, r.URL.Query().Get(consoleauth.QueryRedirect), "")
	})
	pages.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		route, _ := guard.RouteFromContext(r.Context())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>%s</h1>\n", html.EscapeString(route.Title))
		if q := r.URL.Query().Get(consoleauth.QueryAttempted); q != "" {
			fmt.Fprintf(w, "<p>Access to %s requires %s.</p>\n",
				html.EscapeString(q), html.EscapeString(r.URL.Query().Get(consoleauth.QueryRequired)))
		}
		if r.URL.Query().Get(consoleauth.QueryReason) == consoleauth.ReasonPermissionsUnavailable {
			fmt.Fprintln(w, "<p>Permissions are unavailable right now. Try again shortly.</p>")
		}
		fmt.Fprintln(w, "<ul>")
		for _, m := range g.Menu(r.Context()) {
			fmt.Fprintf(w, "<li><a href=%q>%s</a></li>\n", m.Path, html.EscapeString(m.Title))
		}
		fmt.Fprintln(w, "</ul>")
		if route.Secure {
			fmt.Fprintln(w, `<form method="post" action="/logout"><button>Log out</button></form>`)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", consoleprom.NewCollector(e).Handler())
	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		d, err := e.Logout(r.Context())
		if err != nil {
			a.log.Error(err, "logout")
		}
		if d.Allowed() {
			http.Redirect(w, r, cfg.Routes.Dashboard, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, d.Location(), http.StatusSeeOther)
	})
	mux.Handle("/", guard.Middleware(g)(pages))
	return mux, nil
}

func renderLogin(w http.ResponseWriter, loginPath, redirect, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<h1>Log in</h1>")
	if message != "" {
		fmt.Fprintf(w, "<p class=\"error\">%s</p>\n", html.EscapeString(message))
	}
	action := loginPath
	if redirect != "" {
		action += "?" + url.Values{consoleauth.QueryRedirect: {redirect}}.Encode()
	}
	fmt.Fprintf(w, "<form method=\"post\" action=\"%s\">\n", html.EscapeString(action))
	fmt.Fprintln(w, `<input name="email" type="email"><input name="password" type="password"><button>Log in</button></form>`)
}
