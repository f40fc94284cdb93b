package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// PromptOnboarder asks for the first-run identity on a terminal. Values given
// up front (from flags) are used without prompting.
type PromptOnboarder struct {
	in          *bufio.Reader
	out         io.Writer
	PeerID      string
	DisplayName string
}

func NewPromptOnboarder(in io.Reader, out io.Writer) *PromptOnboarder {
	return &PromptOnboarder{in: bufio.NewReader(in), out: out}
}

func (o *PromptOnboarder) PromptIdentity(ctx context.Context) (string, string, error) {
	peerID, err := o.ask(ctx, o.PeerID, "Enter your peer ID: ")
	if err != nil || peerID == "" {
		return peerID, "", err
	}
	name, err := o.ask(ctx, o.DisplayName, "Enter your display name: ")
	return peerID, name, err
}

// Read continues the input after the prompts, including anything already
// buffered while prompting.
func (o *PromptOnboarder) Read(p []byte) (int, error) {
	return o.in.Read(p)
}

// ask returns preset when set, otherwise one trimmed line. EOF yields "".
func (o *PromptOnboarder) ask(ctx context.Context, preset, prompt string) (string, error) {
	if preset = strings.TrimSpace(preset); preset != "" {
		return preset, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(o.out, prompt)
	line, err := o.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
