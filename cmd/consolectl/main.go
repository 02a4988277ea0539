// Command consolectl drives a consoleauth session from the terminal.
//
//	consolectl login --email admin@example.com
//	consolectl visit /vehicles
//	consolectl menu
//	consolectl logout
//
// The token is kept in a file between invocations unless the config
// selects another backend. "serve" starts a self-contained demo console
// backed by a fake API and an in-process Redis.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/autorent-leon/consoleauth"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/pflag"
)

const usage = `usage: consolectl [global flags] <command> [args]

commands:
  login      authenticate and store the session token
  register   create an account
  logout     clear the stored session
  whoami     print the user carried by the stored token
  can CODE   report whether the session holds a permission
  visit PATH print the guard decision for a console path
  menu       list the console pages the session may open
  serve      run the demo console over HTTP
`

var errUsage = errors.New("usage")

type globals struct {
	configPath string
	apiURL     string
	backend    string
	tokenFile  string
	redisAddr  string
	verbosity  int
}

type app struct {
	stdin  *bufio.Reader
	rawIn  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    logr.Logger
	cfg    consoleauth.Config
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "consolectl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("consolectl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fmt.Fprintln(stderr, "\nglobal flags:")
		fs.PrintDefaults()
	}
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&g.apiURL, "api-url", "", "backend API root (overrides config)")
	fs.StringVar(&g.backend, "storage", "", "token storage: memory, file or redis (default file)")
	fs.StringVar(&g.tokenFile, "token-file", "", "token file for file storage")
	fs.StringVar(&g.redisAddr, "redis-addr", "", "redis address for redis storage")
	fs.IntVarP(&g.verbosity, "verbose", "v", 0, "log verbosity")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	stdr.SetVerbosity(g.verbosity)
	a := &app{
		stdin:  bufio.NewReader(stdin),
		rawIn:  stdin,
		stdout: stdout,
		stderr: stderr,
		log:    stdr.New(log.New(stderr, "", log.LstdFlags)).WithName("consolectl"),
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	a.cfg = cfg

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "logout":
		return a.logout(ctx, rest)
	case "whoami":
		return a.whoami(ctx)
	case "can":
		return a.can(ctx, rest)
	case "visit":
		return a.visit(ctx, rest)
	case "menu":
		return a.menu(ctx)
	case "serve":
		return a.serve(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

// loadConfig reads the optional YAML file and applies flag overrides. The
// CLI defaults to file storage so the session outlives the process.
func loadConfig(g globals) (consoleauth.Config, error) {
	cfg := consoleauth.DefaultConfig()
	if g.configPath != "" {
		loaded, err := consoleauth.LoadConfig(g.configPath)
		if err != nil {
			return consoleauth.Config{}, err
		}
		cfg = loaded
	} else {
		cfg.Storage.Backend = consoleauth.StorageFile
	}

	if g.apiURL != "" {
		cfg.API.BaseURL = g.apiURL
	}
	if g.backend != "" {
		cfg.Storage.Backend = consoleauth.StorageBackend(strings.ToLower(g.backend))
	}
	if g.tokenFile != "" {
		cfg.Storage.FilePath = g.tokenFile
	}
	if g.redisAddr != "" {
		cfg.Storage.RedisAddr = g.redisAddr
	}
	if cfg.Storage.Backend == consoleauth.StorageFile && cfg.Storage.FilePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		cfg.Storage.FilePath = filepath.Join(dir, "consolectl", "session.json")
	}
	if err := cfg.Validate(); err != nil {
		return consoleauth.Config{}, err
	}
	return cfg, nil
}

func (a *app) engine(opts ...func(*consoleauth.Builder)) (*consoleauth.Engine, error) {
	b := consoleauth.New().
		WithConfig(a.cfg).
		WithLogger(a.log).
		WithConfirmer(consoleauth.ConfirmFunc(a.confirmLogout))
	for _, opt := range opts {
		opt(b)
	}
	return b.Build()
}

func (a *app) confirmLogout(context.Context) (bool, error) {
	fmt.Fprint(a.stdout, "Log out of the console? [y/N] ")
	answer, err := a.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (a *app) readLine() (string, error) {
	line, err := a.stdin.ReadString('\n')
	return strings.TrimSpace(line), err
}
