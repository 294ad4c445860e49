// Package interactiveauth implements the Authentication plugin
// capability as a terminal prompt: it reads a passphrase or
// confirmation from the controlling tty using golang.org/x/term.
package interactiveauth

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/jolla/secretsbrokerd/internal/crypto"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

const (
	Name = "org.sailfishos.secrets.authentication.interactive"
	Version = "1.0"

	// AuthTypePassphrase is the only interaction kind this plugin
	// supports; bit 0 of AuthenticationTypes().
	AuthTypePassphrase uint32 = 1 << 0

	lockVerificationPlaintext = "secretsbrokerd-interactiveauth-verification"
)

// Plugin prompts on stdin/stdout. In is overridable for tests.
type Plugin struct {
	In *os.File
	Out *os.File

	mu sync.Mutex
	verification string // base64 ciphertext, empty until first SetLockCode
}

// New returns a ready-to-register interactive authentication plugin
// reading from the process's own controlling terminal.
func New() *Plugin {
	return &Plugin{In: os.Stdin, Out: os.Stdout}
}

var _ plugin.Authentication = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }
func (p *Plugin) Version() string { return Version }
func (p *Plugin) AuthenticationTypes() uint32 { return AuthTypePassphrase }

// BeginUserInputInteraction renders params.PromptText (or a default
// derived from the operation) on the terminal and reads the response,
// honoring EchoMode. It runs on its own goroutine so the caller's
// suspension point is an ordinary channel receive.
func (p *Plugin) BeginUserInputInteraction(ctx context.Context, callerPID int, requestID string, params plugin.InteractionParameters) (<-chan plugin.InteractionResult, error) {
	out := make(chan plugin.InteractionResult, 1)

	go func() {
		defer close(out)

		prompt := params.PromptText
		if prompt == "" {
			prompt = defaultPrompt(params)
		}
		fmt.Fprintf(p.Out, "%s: ", prompt)

		var input []byte
		var err error
		if params.EchoMode == plugin.EchoPassword || params.EchoMode == plugin.EchoNone {
			input, err = term.ReadPassword(int(p.In.Fd()))
			fmt.Fprintln(p.Out)
		} else {
			reader := bufio.NewReader(p.In)
			line, rerr := reader.ReadString('\n')
			err = rerr
			input = []byte(trimNewline(line))
		}

		select {
		case <-ctx.Done():
			out <- plugin.InteractionResult{Canceled: true, Err: ctx.Err()}
		default:
			if err != nil {
				out <- plugin.InteractionResult{Err: err}
				return
			}
			out <- plugin.InteractionResult{UserInput: input}
		}
	}()

	return out, nil
}

func defaultPrompt(params plugin.InteractionParameters) string {
	switch params.Operation {
	case plugin.OpCreateCollection:
		return fmt.Sprintf("Set a lock code for collection %q", params.CollectionName)
	case plugin.OpUnlockCollection, plugin.OpReadSecret, plugin.OpStoreSecret, plugin.OpDeleteSecret:
		return fmt.Sprintf("Enter the lock code for collection %q", params.CollectionName)
	case plugin.OpUnlockDatabase:
		return "Enter the device lock code"
	case plugin.OpModifyLockDatabase, plugin.OpModifyLockPlugin:
		return "Enter the new lock code"
	default:
		return "Enter requested data"
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (p *Plugin) SupportsLocking() bool { return true }

func (p *Plugin) SetLockCode(ctx context.Context, old, new []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verification != "" {
		plaintext, err := crypto.DecryptFromBase64(old, p.verification)
		if err != nil || string(plaintext) != lockVerificationPlaintext {
			return fmt.Errorf("incorrect old lock code")
		}
	}
	v, err := crypto.EncryptToBase64(new, []byte(lockVerificationPlaintext))
	if err != nil {
		return err
	}
	p.verification = v
	return nil
}

func (p *Plugin) Unlock(ctx context.Context, code []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verification == "" {
		return nil
	}
	plaintext, err := crypto.DecryptFromBase64(code, p.verification)
	if err != nil || string(plaintext) != lockVerificationPlaintext {
		return fmt.Errorf("incorrect lock code")
	}
	return nil
}

func (p *Plugin) Lock(ctx context.Context) error { return nil }
