package processor

import (
	"context"

	"github.com/jolla/secretsbrokerd/internal/brokererr"
	"github.com/jolla/secretsbrokerd/internal/plugin"
)

// UserInput is a bare pass-through prompt: it asks the named
// authentication plugin to collect a piece of user-entered data and
// returns the bytes directly to the caller, independent of any
// collection or secret. RequestUserData is the
// operation kind callers pass when they want free-form input rather
// than an unlock code.
func (p *Processor) UserInput(ctx context.Context, callerPID int, requestID, authenticationPlugin string, params plugin.InteractionParameters) ([]byte, *brokererr.Error) {
	authPlugin, ok := p.registry.Authentication(authenticationPlugin)
	if !ok {
		return nil, brokererr.New(brokererr.InvalidExtensionPluginError, "no such authentication plugin: %s", authenticationPlugin)
	}
	params.AuthenticationPluginName = authenticationPlugin
	if params.Operation == 0 && params.InputType == 0 {
		params.Operation = plugin.OpRequestUserData
	}
	return p.awaitUserInput(ctx, callerPID, requestID, "user-input:"+requestID, authPlugin, params)
}
