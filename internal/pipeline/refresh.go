package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"edugate/internal/domain"
)

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// refreshCredentials exchanges the stored refresh token for new credentials.
// Concurrent 401s share one in-flight refresh call; every waiter observes
// the same outcome.
func (c *Client) refreshCredentials(ctx context.Context) (domain.Credentials, error) {
	v, err, _ := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		// The shared call must not die with whichever caller happens to be
		// cancelled first.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()
		return c.doRefresh(refreshCtx)
	})
	if err != nil {
		return domain.Credentials{}, err
	}
	return v.(domain.Credentials), nil
}

func (c *Client) doRefresh(ctx context.Context) (interface{}, error) {
	current := c.session.Credentials()
	if current.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	raw, err := json.Marshal(map[string]string{
		"refreshToken":  current.RefreshToken,
		"deviceContext": c.deviceContext,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+c.opts.RefreshPath, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("refresh request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var rr refreshResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &rr); err != nil {
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
	}
	// A success status without a new access token is a hard failure, not
	// something to limp along with.
	if rr.AccessToken == "" {
		return nil, errors.New("refresh response missing access token")
	}

	newRefresh := rr.RefreshToken
	if newRefresh == "" {
		newRefresh = current.RefreshToken
	}
	creds := domain.Credentials{
		AccessToken:  rr.AccessToken,
		RefreshToken: newRefresh,
		Tier:         current.Tier,
	}
	if err := c.session.Set(creds); err != nil {
		return nil, err
	}
	c.logger.Info("credentials refreshed", "tier", string(creds.Tier))
	return c.session.Credentials(), nil
}
