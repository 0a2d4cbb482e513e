package schemes

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"plantwatch-backend/internal/monitor"
)

type matchRequest struct {
	Profile monitor.Profile `json:"profile"`
	Issue   string          `json:"issue"`
}

type matchResponse struct {
	Schemes []monitor.Scheme `json:"schemes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls the hosted scheme-matching service.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{httpClient: client, logger: logger}
}

func (c *Client) MatchSchemes(ctx context.Context, profile monitor.Profile, issue string) ([]monitor.Scheme, error) {
	var result matchResponse
	var apiErr errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(matchRequest{Profile: profile, Issue: issue}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/match")
	if err != nil {
		return nil, fmt.Errorf("call scheme matcher: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return nil, fmt.Errorf("scheme matcher returned %d: %s", resp.StatusCode(), msg)
	}
	c.logger.Debug("scheme matcher responded",
		zap.String("plant_id", profile.PlantID),
		zap.Int("schemes", len(result.Schemes)),
	)
	if result.Schemes == nil {
		result.Schemes = []monitor.Scheme{}
	}
	return result.Schemes, nil
}
