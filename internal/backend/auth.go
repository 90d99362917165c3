package backend

import (
	"context"
	"net/http"
	"net/url"
)

// authUser is the wire shape of an account returned by the auth
// endpoints. The display name lives in profile metadata and may be
// absent.
type authUser struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata"`
	AvatarURL string         `json:"avatar_url"`
}

func (u authUser) toUser() User {
	name, _ := u.Metadata["name"].(string)
	if name == "" {
		name = localPart(u.Email)
	}
	return User{ID: u.ID, Email: u.Email, Name: name, AvatarURL: u.AvatarURL}
}

type authResponse struct {
	AccessToken string   `json:"access_token"`
	User        authUser `json:"user"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn performs a password grant. On success the returned token is
// installed on the client.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	q := url.Values{"grant_type": {"password"}}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, credentials{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &Session{AccessToken: resp.AccessToken, User: resp.User.toUser()}, nil
}

// SignUp creates an account with the given credentials and signs it in.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, credentials{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &Session{AccessToken: resp.AccessToken, User: resp.User.toUser()}, nil
}

// CurrentUser validates the installed token against the backend and
// returns the account it belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var wire authUser
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &wire); err != nil {
		return nil, err
	}
	u := wire.toUser()
	return &u, nil
}
