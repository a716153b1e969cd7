// Package common holds the pieces shared by the device app handlers
package common

import (
	"context"

	"github.com/wrale/device-flow-session/internal/deviceflow"
	"github.com/wrale/device-flow-session/internal/oauth"
)

// Session is the device flow surface driven over HTTP. *deviceflow.Flow implements it.
type Session interface {
	Start(ctx context.Context) (deviceflow.DeviceSession, error)
	Logout(ctx context.Context) (oauth.RevocationResult, error)
	Status() deviceflow.Status
	Session() (deviceflow.DeviceSession, bool)
	Subscribe() (string, <-chan deviceflow.Event)
	Unsubscribe(id string)
}

var _ Session = (*deviceflow.Flow)(nil)
