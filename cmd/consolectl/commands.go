package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/autorent-leon/consoleauth"
	"github.com/autorent-leon/consoleauth/authapi"
	"github.com/autorent-leon/consoleauth/guard"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func (a *app) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	email := fs.StringP("email", "e", "", "account email")
	password := fs.String("password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *email == "" {
		fmt.Fprint(a.stdout, "Email: ")
		line, err := a.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		*email = line
	}
	if *password == "" {
		pw, err := a.readPassword("Password: ")
		if err != nil {
			return err
		}
		*password = pw
	}

	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.Login(ctx, *email, *password); err != nil {
		return errors.New(consoleauth.UserMessage(err))
	}
	if user, ok := e.CurrentUser(ctx); ok {
		fmt.Fprintf(a.stdout, "Logged in as %s <%s>\n", user.FullName(), user.Email)
	} else {
		fmt.Fprintln(a.stdout, "Logged in")
	}
	if !e.PermissionsKnown() {
		fmt.Fprintln(a.stderr, "warning: permissions could not be loaded; they will be retried on next use")
	}
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	name := fs.String("name", "", "display name")
	email := fs.StringP("email", "e", "", "account email")
	password := fs.String("password", "", "account password (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *name == "" || *email == "" {
		fmt.Fprintln(a.stderr, "register requires --name and --email")
		return errUsage
	}
	if *password == "" {
		pw, err := a.readPassword("Password: ")
		if err != nil {
			return err
		}
		*password = pw
	}

	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	resp, err := e.Register(ctx, authapi.RegisterRequest{Name: *name, Email: *email, Password: *password})
	if err != nil {
		return errors.New(consoleauth.UserMessage(err))
	}
	msg := resp.Message
	if msg == "" {
		msg = "Account created"
	}
	fmt.Fprintln(a.stdout, msg)
	return nil
}

func (a *app) logout(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("logout", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	yes := fs.BoolP("yes", "y", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	var opts []func(*consoleauth.Builder)
	if *yes {
		opts = append(opts, func(b *consoleauth.Builder) { b.WithConfirmer(consoleauth.AlwaysConfirm) })
	}
	e, err := a.engine(opts...)
	if err != nil {
		return err
	}
	defer e.Close()

	d, err := e.Logout(ctx)
	if err != nil {
		return err
	}
	if d.Allowed() {
		fmt.Fprintln(a.stdout, "Still logged in")
		return nil
	}
	fmt.Fprintf(a.stdout, "Logged out, continue at %s\n", d.Location())
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.CheckLoggedIn(ctx) {
		fmt.Fprintln(a.stdout, "Not logged in")
		return nil
	}
	user, ok := e.CurrentUser(ctx)
	if !ok {
		fmt.Fprintln(a.stdout, "Not logged in")
		return nil
	}
	fmt.Fprintf(a.stdout, "%s <%s> id=%d", user.FullName(), user.Email, user.UserID)
	if user.IsSuperuser {
		fmt.Fprint(a.stdout, " superuser")
	}
	if user.ExpiresAt != nil {
		fmt.Fprintf(a.stdout, " expires=%s", user.ExpiresAt.Time.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintln(a.stdout)
	return nil
}

func (a *app) can(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "can requires one permission code")
		return errUsage
	}
	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	if !e.CheckLoggedIn(ctx) {
		fmt.Fprintln(a.stdout, "Not logged in")
		return nil
	}
	if !e.PermissionsKnown() && !e.FetchUserPermissions(ctx) {
		return errors.New("permissions are unavailable right now")
	}
	if !e.Registry().Known(args[0]) {
		fmt.Fprintf(a.stderr, "warning: %q is not a known permission code\n", args[0])
	}
	if e.HasPermission(args[0]) {
		fmt.Fprintf(a.stdout, "yes: %s\n", args[0])
	} else {
		fmt.Fprintf(a.stdout, "no: %s\n", args[0])
	}
	return nil
}

func (a *app) visit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.stderr, "visit requires one path")
		return errUsage
	}
	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := guard.ForEngine(e, guard.WithLogger(a.log))
	if err != nil {
		return err
	}
	route, d := g.Navigate(ctx, args[0])
	if d.Allowed() {
		fmt.Fprintf(a.stdout, "allow %s (%s)\n", route.Path, route.Name)
		return nil
	}
	fmt.Fprintf(a.stdout, "%s %s\n", d.Outcome, d.Location())
	return nil
}

func (a *app) menu(ctx context.Context) error {
	e, err := a.engine()
	if err != nil {
		return err
	}
	defer e.Close()

	g, err := guard.ForEngine(e, guard.WithLogger(a.log))
	if err != nil {
		return err
	}
	routes := g.Menu(ctx)
	if len(routes) == 0 {
		fmt.Fprintln(a.stdout, "No pages available")
		return nil
	}
	for _, r := range routes {
		fmt.Fprintf(a.stdout, "%-16s %s\n", r.Path, r.Title)
	}
	return nil
}

// readPassword reads without echo when stdin is a terminal and falls back
// to a plain line otherwise.
func (a *app) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.stdout, prompt)
	if f, ok := a.rawIn.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stdout)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(pw)), nil
	}
	line, err := a.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}
