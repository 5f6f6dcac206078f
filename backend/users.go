package backend

import (
	"context"
	"net/http"

	"github.com/jrsteele09/repairshop-session/internal/utils"
)

// User is the backend record matching the signed in identity.
type User struct {
	ID          int64   `json:"id"`
	UID         string  `json:"uid"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
}

func (u *User) Name() string {
	if name := utils.Value(u.DisplayName); name != "" {
		return name
	}
	return u.Email
}

// Whoami returns the user record for the token's identity, creating it on
// first call. Repeated calls return the same record.
func (c *Client) Whoami(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/whoami"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
