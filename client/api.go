package client

import (
	"context"

	"mini-ws/message"
	"mini-ws/result"
)

// Player flow (op 3 → 4).

func (c *Client) GetPlayerInfo(ctx context.Context) *result.Result {
	return c.Call(ctx, message.PlayerFlow, message.GetPlayerInfo, nil)
}

func (c *Client) UpdateName(ctx context.Context, name string) *result.Result {
	return c.Call(ctx, message.PlayerFlow, message.UpdateName, map[string]any{"name": name})
}

func (c *Client) BindPhone(ctx context.Context, phone string) *result.Result {
	return c.Call(ctx, message.PlayerFlow, message.BindPhone, map[string]any{"phone": phone})
}

// Item flow (op 5 → 6).

func (c *Client) GetAllItems(ctx context.Context) *result.Result {
	return c.Call(ctx, message.ItemFlow, message.GetAllItems, nil)
}

func (c *Client) GetItem(ctx context.Context, id int64) *result.Result {
	return c.Call(ctx, message.ItemFlow, message.GetItemByID, map[string]any{"id": id})
}
