package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

var platformPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

func platformPath(platform string) (string, error) {
	if !platformPattern.MatchString(platform) {
		return "", fmt.Errorf("invalid platform name %q", platform)
	}
	return "/api/integrations/" + url.PathEscape(platform), nil
}

// ListIntegrations lists connected and known platforms.
func (c *Client) ListIntegrations(ctx context.Context) ([]Integration, error) {
	var out []Integration
	err := c.do(ctx, http.MethodGet, "/api/integrations", nil, nil, &out)
	return out, err
}

// SaveCredentials stores credentials for a platform. The server encrypts
// them; the console never keeps a copy.
func (c *Client) SaveCredentials(ctx context.Context, platform string, creds map[string]string) (Integration, error) {
	path, err := platformPath(platform)
	if err != nil {
		return Integration{}, err
	}
	if len(creds) == 0 {
		return Integration{}, fmt.Errorf("save credentials for %s: no fields given", platform)
	}
	var out Integration
	err = c.do(ctx, http.MethodPost, path, nil, map[string]interface{}{"credentials": creds}, &out)
	return out, err
}

// TestConnection asks the server to verify a platform's stored credentials.
func (c *Client) TestConnection(ctx context.Context, platform string) (TestResult, error) {
	path, err := platformPath(platform)
	if err != nil {
		return TestResult{}, err
	}
	var out TestResult
	err = c.do(ctx, http.MethodPost, path+"/test", nil, nil, &out)
	return out, err
}

// Disconnect removes a platform's credentials.
func (c *Client) Disconnect(ctx context.Context, platform string) (Message, error) {
	path, err := platformPath(platform)
	if err != nil {
		return Message{}, err
	}
	var out Message
	err = c.do(ctx, http.MethodDelete, path, nil, nil, &out)
	return out, err
}

// RegisterWebhook registers the Telegram bot webhook using the stored
// Telegram credentials.
func (c *Client) RegisterWebhook(ctx context.Context) (Message, error) {
	var out Message
	err := c.do(ctx, http.MethodPost, "/api/integrations/telegram/register-webhook", nil, nil, &out)
	return out, err
}
