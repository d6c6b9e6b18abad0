package client

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// App dispatches camctl subcommands.
type App struct {
	in  *bufio.Reader
	out io.Writer
}

func NewApp() *App {
	return &App{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

const usage = `usage: camctl <command> [flags]

commands:
  register    create an account and print a session token
  login       authenticate and print a session token
  provision   register or rotate a device, printing its key once
  ingest      upload a file as a segment using a device key
  tail        follow realtime segment events for a device
`

// Run executes one subcommand. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "register":
		return a.register(ctx, args[1:])
	case "login":
		return a.login(ctx, args[1:])
	case "provision":
		return a.provision(ctx, args[1:])
	case "ingest":
		return a.ingest(ctx, args[1:])
	case "tail":
		return a.tail(ctx, args[1:])
	default:
		fmt.Fprint(a.out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func addrFlag(fs *flag.FlagSet) *string {
	return fs.String("addr", "http://localhost:3000", "server base URL")
}

func (a *App) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	addr := addrFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	name, err := PromptLine(a.in, "Name", a.out)
	if err != nil {
		return err
	}
	email, err := PromptLine(a.in, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := PromptPassword(a.out)
	if err != nil {
		return err
	}

	session, err := New(*addr).Register(ctx, name, email, string(password))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "registered %s\ntoken: %s\n", session.User.Email, session.Token)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	addr := addrFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	email, err := PromptLine(a.in, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := PromptPassword(a.out)
	if err != nil {
		return err
	}

	session, err := New(*addr).Login(ctx, email, string(password))
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "token: %s\n", session.Token)
	return nil
}

func (a *App) provision(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	addr := addrFlag(fs)
	token := fs.String("token", "", "session token")
	name := fs.String("name", "", "device name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := New(*addr).ProvisionDevice(ctx, *token, *name)
	if err != nil {
		return err
	}

	action := "provisioned"
	if result.Rotated {
		action = "rotated key for"
	}
	fmt.Fprintf(a.out, "%s device %q\ndeviceId: %s\ndeviceKey: %s\n", action, result.Name, result.DeviceID, result.DeviceKey)
	fmt.Fprintln(a.out, "store the key now; it will not be shown again")
	return nil
}

func (a *App) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	addr := addrFlag(fs)
	key := fs.String("key", "", "device key")
	file := fs.String("file", "", "file to upload as a segment")
	duration := fs.Duration("duration", 0, "segment length, counted back from now")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	var startedAt, finishedAt time.Time
	if *duration > 0 {
		startedAt = now.Add(-*duration)
		finishedAt = now
	}

	segmentID, err := New(*addr).IngestFile(ctx, *key, *file, startedAt, finishedAt)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "segmentId: %s\n", segmentID)
	return nil
}

func (a *App) tail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	addr := addrFlag(fs)
	token := fs.String("token", "", "session token")
	device := fs.String("device", "", "device id to follow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return New(*addr).TailEvents(ctx, *token, *device, a.out)
}
