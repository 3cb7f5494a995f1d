package frontdoor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/storage/model"
)

// UsersAuthenticator returns a basicauth.Authenticator backed by the passed
// model.UsersStore
func UsersAuthenticator(users model.UsersStore) basicauth.Authenticator {
	return basicauth.AuthenticatorFunc(
		func(_ context.Context, username, password string) (*basicauth.Principal, error) {
			u, err := users.Authenticate(username, password)
			if err != nil {
				var notFound model.NotFoundError
				var authErr model.AuthenticationError
				if errors.As(err, &notFound) || errors.As(err, &authErr) {
					return nil, basicauth.ErrInvalidCredentials
				}
				return nil, err
			}
			return &basicauth.Principal{
				Username: u.Username,
				Roles:    u.Roles,
			}, nil
		},
	)
}

func denyAll(context.Context, string, string) (*basicauth.Principal, error) {
	return nil, basicauth.ErrInvalidCredentials
}
