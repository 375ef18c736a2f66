package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nous-labs/walletd/pkg/channel"
)

// handleChannelMessage runs a chat message through the dispatcher and
// renders the response for the chat room.
func (d *Daemon) handleChannelMessage(ctx context.Context, msg channel.Message) (string, error) {
	resp := d.dispatcher.HandleText(ctx, msg.Source, msg.Content)
	body, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return "```json\n" + string(body) + "\n```", nil
}
