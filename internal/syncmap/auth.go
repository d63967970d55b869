package syncmap

import "log/slog"

// ReasonWrongCredentials is the connection error sent when the server
// refuses the client's credentials.
const ReasonWrongCredentials = "wrong-credentials"

// Auth exposes the client's authentication state as signals.
//
// IsAuthenticated becomes true on the first synchronized connection and
// stays true across disconnects. A user change resets it until the next
// synchronized connection; a wrong-credentials error clears it.
type Auth struct {
	UserID          *Signal[string]
	IsAuthenticated *Signal[bool]

	remove []func()
}

// NewAuth binds an Auth to c. Call Close to unbind.
func NewAuth(c Client) *Auth {
	a := &Auth{
		UserID:          NewSignal(c.UserID()),
		IsAuthenticated: NewSignal(c.State() == StateSynchronized),
	}
	a.remove = append(a.remove,
		c.OnUser(func(userID string) {
			slog.Debug("user changed", "user", userID)
			a.UserID.Set(userID)
			a.setAuthenticated(false)
		}),
		c.OnState(func(state ConnState) {
			if state == StateSynchronized {
				a.UserID.Set(c.UserID())
				a.setAuthenticated(true)
			}
		}),
		c.OnError(func(reason string) {
			if reason == ReasonWrongCredentials {
				slog.Debug("wrong credentials", "user", c.UserID())
				a.setAuthenticated(false)
			}
		}),
	)
	return a
}

func (a *Auth) setAuthenticated(v bool) {
	if a.IsAuthenticated.Get() != v {
		a.IsAuthenticated.Set(v)
	}
}

// Close unbinds from the client.
func (a *Auth) Close() {
	for _, fn := range a.remove {
		fn()
	}
	a.remove = nil
}
