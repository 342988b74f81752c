package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
)

func TestTopicPath(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "cs-inventory-events", "projects/proj/topics/cs-inventory-events"},
		{"proj", " projects/other/topics/t ", "projects/other/topics/t"},
		{"", "cs-inventory-events", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := TopicPath(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicPath(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesBeforeDialing(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, []string{"inv"}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "proj"}, []string{" ", ""}, nil); !errors.Is(err, errNoTopics) {
		t.Fatalf("expected topics error, got %v", err)
	}
}

func TestZeroClientIsInert(t *testing.T) {
	var c *Client
	if c.Publisher("inv") != nil {
		t.Fatal("nil client must not hand out publishers")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
