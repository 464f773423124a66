package bitunix

import (
	"context"
	"net/http"
)

// SetLeverage sets the account's per-symbol leverage multiplier.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]any{
		"symbol":   symbol,
		"leverage": leverage,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/account/change_leverage", payload, nil)
	return err
}

// SetMarginMode sets the account's per-symbol margin mode
// ("CROSS"/"ISOLATED").
func (c *Client) SetMarginMode(ctx context.Context, symbol, mode string) error {
	payload := map[string]string{
		"symbol":     symbol,
		"marginMode": mode,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/futures/account/change_margin_mode", payload, nil)
	return err
}
