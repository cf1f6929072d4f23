package rest

import (
	"context"
	"fmt"
)

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the answer of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

func (c *Client) GatewayBot(ctx context.Context) (*GatewayBot, error) {
	resp, err := c.Execute(ctx, NewRequest(RouteGatewayBot))
	if err != nil {
		return nil, err
	}
	var gb GatewayBot
	if err := resp.Decode(&gb); err != nil {
		return nil, &Error{Kind: KindProtocol, Route: RouteGatewayBot, Status: resp.Status, Err: fmt.Errorf("decode gateway bot: %w", err)}
	}
	if gb.SessionStartLimit.MaxConcurrency < 1 {
		gb.SessionStartLimit.MaxConcurrency = 1
	}
	return &gb, nil
}
