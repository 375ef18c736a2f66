package matrix

import (
	"context"
	"strings"
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/nous-labs/walletd/pkg/channel"
)

func TestStartRefusesWithoutAllowedUsers(t *testing.T) {
	c := New(Config{Homeserver: "http://127.0.0.1:1", UserID: "walletd", ServerName: "example.org", DataDir: t.TempDir()})
	err := c.Start(context.Background(), func(context.Context, channel.Message) (string, error) { return "", nil })
	if err == nil || !strings.Contains(err.Error(), "allowed_users") {
		t.Fatalf("err = %v", err)
	}
}

func TestAllowedUsers(t *testing.T) {
	c := New(Config{AllowedUsers: []string{"@alice:example.org", ""}})
	if !c.allowed[id.UserID("@alice:example.org")] {
		t.Error("alice not allowed")
	}
	if c.allowed[id.UserID("@mallory:example.org")] {
		t.Error("mallory allowed")
	}
	if len(c.allowed) != 1 {
		t.Errorf("allowed = %v", c.allowed)
	}
}
