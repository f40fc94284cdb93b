package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	apperrors "peerlink/pkg/errors"

	"go.uber.org/zap"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

// Command is one parsed input line. Plain text parses as "msg".
type Command struct {
	Name string
	Arg  string
}

// Parse splits a line into a command and its argument. Blank lines report false.
func Parse(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Name: "msg", Arg: line}, true
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	return Command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

type usage struct {
	name string
	help string
}

var commands = []usage{
	{"/connect <peer>", "open a chat session"},
	{"/disconnect", "close the session"},
	{"/reconnect", "reconnect to the last peer"},
	{"/call", "start a video call"},
	{"/hangup", "end the call"},
	{"/mute", "toggle the microphone"},
	{"/video", "pause or resume the camera"},
	{"/file <path>", "share a file (max 10MB)"},
	{"/photo <path>", "share an image (max 5MB)"},
	{"/location", "share your location"},
	{"/clear", "clear the chat log"},
	{"/cleardata", "forget identity and last peer"},
	{"/msg <text>", "send a message (or just type it)"},
	{"/quit", "exit"},
}

// Dispatcher turns input lines into client operations. Every operation runs on
// the client event loop through Client.Do.
type Dispatcher struct {
	client   *services.Client
	renderer ports.Renderer
	statFile func(string) (os.FileInfo, error)
	readFile func(string) ([]byte, error)
	logger   *zap.SugaredLogger
}

func NewDispatcher(client *services.Client, renderer ports.Renderer, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		renderer: renderer,
		statFile: os.Stat,
		readFile: os.ReadFile,
		logger:   logger,
	}
}

// Execute runs one input line. Policy errors have already been shown to the
// user when they are returned.
func (d *Dispatcher) Execute(ctx context.Context, line string) error {
	cmd, ok := Parse(line)
	if !ok {
		return nil
	}

	if err := d.client.Do(ctx, func(context.Context) error {
		d.client.UserActive()
		return nil
	}); err != nil {
		return err
	}

	switch cmd.Name {
	case "msg":
		return d.do(ctx, func(context.Context) error { return d.client.Share.SendText(cmd.Arg) })
	case "connect":
		return d.do(ctx, func(ctx context.Context) error {
			return d.client.Sessions.Connect(ctx, domain.PeerID(cmd.Arg))
		})
	case "disconnect":
		return d.do(ctx, func(ctx context.Context) error {
			d.client.Sessions.Disconnect(ctx)
			return nil
		})
	case "reconnect":
		return d.do(ctx, func(ctx context.Context) error { return d.client.Sessions.Reconnect(ctx) })
	case "call":
		return d.do(ctx, func(ctx context.Context) error { return d.client.Calls.StartOutgoing(ctx) })
	case "hangup":
		return d.do(ctx, func(context.Context) error { return d.client.Calls.HangUp() })
	case "mute":
		return d.do(ctx, func(context.Context) error { return d.client.Calls.ToggleMute() })
	case "video":
		return d.do(ctx, func(context.Context) error { return d.client.Calls.TogglePauseVideo() })
	case "file", "photo":
		return d.share(ctx, cmd)
	case "location":
		return d.do(ctx, func(ctx context.Context) error {
			d.client.RequestLocation(ctx)
			return nil
		})
	case "clear":
		return d.do(ctx, func(context.Context) error {
			d.client.ClearLog()
			return nil
		})
	case "cleardata":
		return d.do(ctx, d.client.ClearData)
	case "help":
		d.help()
		return nil
	case "quit", "exit":
		return ErrQuit
	default:
		msg := "Unknown command: /" + cmd.Name + " (try /help)"
		d.renderer.AppendLine(msg, ports.LineSystem)
		return apperrors.NewPolicyError(nil, msg)
	}
}

func (d *Dispatcher) do(ctx context.Context, fn func(context.Context) error) error {
	err := d.client.Do(ctx, fn)
	if err != nil && !errors.Is(err, services.ErrClientStopped) {
		d.logger.Debugw("Command failed", "code", apperrors.CodeOf(err), "error", err)
	}
	return err
}

// share checks the size and reads the file off the loop, then hands the
// bytes to the loop.
func (d *Dispatcher) share(ctx context.Context, cmd Command) error {
	if cmd.Arg == "" {
		msg := fmt.Sprintf("Usage: /%s <path>", cmd.Name)
		d.renderer.AppendLine(msg, ports.LineSystem)
		return apperrors.NewPolicyError(nil, msg)
	}

	kind := domain.KindFile
	if cmd.Name == "photo" {
		kind = domain.KindImage
	}
	info, err := d.statFile(cmd.Arg)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("is a directory")
	}
	if err != nil {
		return d.cannotRead(cmd.Arg, err)
	}
	if err := d.do(ctx, func(context.Context) error {
		return d.client.Share.CheckSize(kind, info.Size())
	}); err != nil {
		return err
	}

	data, err := d.readFile(cmd.Arg)
	if err != nil {
		return d.cannotRead(cmd.Arg, err)
	}

	name := filepath.Base(cmd.Arg)
	if kind == domain.KindImage {
		return d.do(ctx, func(context.Context) error { return d.client.Share.SharePhoto(name, data) })
	}
	return d.do(ctx, func(context.Context) error { return d.client.Share.ShareFile(name, data) })
}

func (d *Dispatcher) cannotRead(path string, err error) error {
	msg := "Cannot read " + path + ": " + err.Error()
	d.renderer.AppendLine(msg, ports.LineSystem)
	return apperrors.NewPolicyError(err, msg)
}

func (d *Dispatcher) help() {
	for _, c := range commands {
		d.renderer.AppendLine(fmt.Sprintf("%-18s %s", c.name, c.help), ports.LineSystem)
	}
}

// ReadLoop executes lines from in until EOF, /quit or ctx is done.
func (d *Dispatcher) ReadLoop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			err := d.Execute(ctx, line)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case errors.Is(err, services.ErrClientStopped):
				return err
			}
		}
	}
}
