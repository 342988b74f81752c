// Package pubsub owns the Pub/Sub connection of the outbox publisher: it
// checks that the routed topics exist and hands out one publisher per topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
)

type Client struct {
	conn    *pubsub.Client
	project string
	topics  []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
	closed     bool
}

// NewClient connects and fails unless every topic already exists. Topics
// are never created here; provisioning owns them.
func NewClient(ctx context.Context, gcp config.GCPConfig, topics []string, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	paths := make([]string, 0, len(topics))
	for _, name := range topics {
		if path := TopicPath(project, name); path != "" {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil, errNoTopics
	}

	conn, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{
		conn:       conn,
		project:    project,
		topics:     paths,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"project": project, "topics": paths}), "pubsub connected")
	}
	return c, nil
}

// Ping checks every topic concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errors.New("pubsub client not initialized")
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range c.topics {
		g.Go(func() error {
			_, err := c.conn.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: path})
			switch {
			case status.Code(err) == codes.NotFound:
				return fmt.Errorf("topic %s does not exist", path)
			case err != nil:
				return fmt.Errorf("get topic %s: %w", path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Publisher returns the shared publisher of a topic id or full resource
// name. It returns nil for a blank name or a closed client.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.conn == nil {
		return nil
	}
	path := TopicPath(c.project, name)
	if path == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if p, ok := c.publishers[path]; ok {
		return p
	}
	p := c.conn.Publisher(path)
	c.publishers[path] = p
	return p
}

// Close flushes every publisher, then releases the connection. It is safe
// to call more than once.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	publishers := c.publishers
	c.publishers = nil
	c.mu.Unlock()

	for _, p := range publishers {
		p.Stop()
	}
	return c.conn.Close()
}

// TopicPath expands a topic id to projects/<project>/topics/<id>. Full
// resource names pass through.
func TopicPath(project, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/") {
		return name
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/topics/" + name
}
