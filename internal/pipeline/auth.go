package pipeline

import (
	"context"
	"errors"
	"net/http"

	"edugate/internal/domain"
)

type loginResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	Profile      *domain.Profile `json:"profile,omitempty"`
}

// Login authenticates and stores the resulting credential tuple. remember
// selects the persistence tier: a remembered session keeps its refresh token
// in the vault across restarts.
func (c *Client) Login(ctx context.Context, username, password string, remember bool) (domain.Profile, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   c.opts.LoginPath,
		Body: map[string]string{
			"username":      username,
			"password":      password,
			"deviceContext": c.deviceContext,
		},
	})
	if err != nil {
		return domain.Profile{}, err
	}

	var lr loginResponse
	if err := resp.Decode(&lr); err != nil {
		return domain.Profile{}, err
	}
	if lr.AccessToken == "" || lr.RefreshToken == "" {
		return domain.Profile{}, errors.New("login response missing tokens")
	}

	tier := domain.TierEphemeral
	if remember {
		tier = domain.TierPersistent
	}
	if err := c.session.Set(domain.Credentials{
		AccessToken:  lr.AccessToken,
		RefreshToken: lr.RefreshToken,
		Tier:         tier,
	}); err != nil {
		return domain.Profile{}, err
	}

	if lr.Profile != nil {
		c.session.SetProfile(*lr.Profile)
		return *lr.Profile, nil
	}
	return domain.Profile{}, nil
}

// Logout clears the session without raising an alert.
func (c *Client) Logout(ctx context.Context) {
	c.ForceLogout(ctx, "")
}
