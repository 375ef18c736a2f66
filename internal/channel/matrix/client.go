// Package matrix lets allowed Matrix users talk to walletd in a room.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nous-labs/walletd/pkg/channel"
)

// Config holds Matrix channel configuration.
type Config struct {
	Homeserver   string
	UserID       string // localpart, e.g. "walletd"
	Password     string
	ServerName   string
	AllowedUsers []string // full user ids; empty allows nobody
	DataDir      string
}

// Channel implements channel.Channel for Matrix.
type Channel struct {
	config    Config
	client    *mautrix.Client
	handler   channel.Handler
	startTime int64
	credFile  string
	allowed   map[id.UserID]bool
}

var _ channel.Channel = (*Channel)(nil)

type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a Matrix channel.
func New(cfg Config) *Channel {
	allowed := make(map[id.UserID]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		if u != "" {
			allowed[id.UserID(u)] = true
		}
	}
	return &Channel{
		config:   cfg,
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
		allowed:  allowed,
	}
}

func (c *Channel) Name() string { return "matrix" }

// Start logs in and syncs until ctx ends, reconnecting after sync errors.
func (c *Channel) Start(ctx context.Context, handler channel.Handler) error {
	if len(c.allowed) == 0 {
		return fmt.Errorf("matrix: allowed_users is empty; refusing to accept wallet commands from anyone")
	}
	c.handler = handler
	c.startTime = time.Now().UnixMilli()

	if err := os.MkdirAll(c.config.DataDir, 0o700); err != nil {
		return fmt.Errorf("create matrix data dir: %w", err)
	}

	fullUserID := id.NewUserID(c.config.UserID, c.config.ServerName)
	client, err := mautrix.NewClient(c.config.Homeserver, fullUserID, "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	c.client = client
	client.Store = mautrix.NewMemorySyncStore()

	if err := c.login(ctx); err != nil {
		return err
	}

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.onMessage)
	syncer.OnEventType(event.StateMember, c.onMember)

	slog.Info("matrix channel ready", "user", client.UserID)
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// login reuses saved credentials, else logs in by password with
// exponential backoff.
func (c *Channel) login(ctx context.Context) error {
	if err := c.loadCredentials(); err == nil {
		slog.Info("loaded saved matrix credentials", "user", c.client.UserID)
		return nil
	}

	backoff := 2 * time.Second
	const maxBackoff = 2 * time.Minute
	const maxAttempts = 10

	for attempt := 1; ; attempt++ {
		resp, err := c.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: c.config.UserID,
			},
			Password:         c.config.Password,
			StoreCredentials: true,
		})
		if err == nil {
			slog.Info("logged into matrix", "user", resp.UserID, "device", resp.DeviceID)
			c.saveCredentials(credentials{
				AccessToken: resp.AccessToken,
				UserID:      string(resp.UserID),
				DeviceID:    string(resp.DeviceID),
			})
			return nil
		}

		if s := err.Error(); strings.Contains(s, "M_FORBIDDEN") || strings.Contains(s, "M_INVALID_PARAM") {
			return fmt.Errorf("matrix login: %w (non-retryable)", err)
		}
		if attempt == maxAttempts {
			return fmt.Errorf("matrix login: %w (after %d attempts)", err, maxAttempts)
		}
		slog.Warn("matrix login failed, retrying", "error", err, "attempt", attempt, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Send posts reply to its room.
func (c *Channel) Send(ctx context.Context, reply channel.Reply) error {
	_, err := c.client.SendText(ctx, id.RoomID(reply.RoomID), reply.Content)
	if err != nil {
		return fmt.Errorf("matrix send to %s: %w", reply.RoomID, err)
	}
	return nil
}

// Stop ends the sync loop.
func (c *Channel) Stop() error {
	if c.client != nil {
		c.client.StopSync()
	}
	return nil
}

func (c *Channel) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.client.UserID || evt.Timestamp < c.startTime || !c.allowed[evt.Sender] {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || strings.TrimSpace(content.Body) == "" {
		return
	}

	slog.Info("matrix request", "sender", evt.Sender, "room", evt.RoomID)
	text, err := c.handler(ctx, channel.Message{
		Source:   "matrix",
		SenderID: string(evt.Sender),
		RoomID:   string(evt.RoomID),
		Content:  content.Body,
		Sent:     time.UnixMilli(evt.Timestamp),
	})
	if err != nil {
		slog.Error("matrix handler error", "error", err)
		text = fmt.Sprintf("error: %v", err)
	}
	if err := c.Send(ctx, channel.Reply{RoomID: string(evt.RoomID), Content: text}); err != nil {
		slog.Error("matrix reply failed", "error", err)
	}
}

func (c *Channel) onMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != string(c.client.UserID) {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !c.allowed[evt.Sender] {
		slog.Warn("ignoring invite from unauthorized user", "sender", evt.Sender)
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
		return
	}
	slog.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (c *Channel) loadCredentials() error {
	data, err := os.ReadFile(c.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	c.client.AccessToken = creds.AccessToken
	c.client.UserID = id.UserID(creds.UserID)
	c.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (c *Channel) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	if err := os.WriteFile(c.credFile, data, 0o600); err != nil {
		slog.Warn("failed to save matrix credentials", "error", err)
	}
}
