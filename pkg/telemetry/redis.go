// Package telemetry mirrors facade state into Redis and relays
// externally queued command requests into it, the way the source
// bridges the BLE link to the rest of the vehicle's Redis state.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roboregion/c110p/pkg/command"
)

// Client wraps a go-redis connection with the narrow set of
// operations the bridge needs: hash writes for stats, list pops for
// queued outbound commands.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New dials addr/db with password and verifies the connection with a
// PING before returning.
func New(addr, password string, db int) (*Client, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx := context.Background()
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis: %w", err)
	}
	return &Client{client: rc, ctx: ctx}, nil
}

// PublishStats writes the facade's window/table sizes into a Redis
// hash at key, one field per counter.
func (c *Client) PublishStats(key string, sent, received, outstanding int) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, "sent", sent)
	pipe.HSet(c.ctx, key, "received", received)
	pipe.HSet(c.ctx, key, "outstanding", outstanding)
	_, err := pipe.Exec(c.ctx)
	return err
}

// PublishAck records the most recent ack/nack decision for id so an
// external caller can poll for delivery confirmation.
func (c *Client) PublishAck(key string, id uint32, acknowledged bool, reason string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, "last_ack_id", id)
	pipe.HSet(c.ctx, key, "last_ack_ok", acknowledged)
	pipe.HSet(c.ctx, key, "last_ack_reason", reason)
	_, err := pipe.Exec(c.ctx)
	return err
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// CommandRequest is the JSON shape a caller pushes onto the command
// list to request an outbound Led/Sound/Move command.
type CommandRequest struct {
	Target   command.Region `json:"target"`
	Tag      string         `json:"tag"`
	Led      *command.LedData   `json:"led,omitempty"`
	Sound    *command.SoundData `json:"sound,omitempty"`
	Move     *command.MoveData  `json:"move,omitempty"`
}

// Sender is satisfied by *c110p.Facade; kept narrow so this package
// never imports the facade package back.
type Sender interface {
	NewLedCommand(target command.Region, data command.LedData) command.Command
	NewSoundCommand(target command.Region, data command.SoundData) command.Command
	NewMoveCommand(target command.Region, data command.MoveData) command.Command
	Send(cmd command.Command) bool
}

// Bridge relays CommandRequest JSON popped off a Redis list into the
// facade, mirroring the source's watch-list-then-dispatch pattern.
type Bridge struct {
	redis   *Client
	sender  Sender
	listKey string
	stopCh  chan struct{}
}

// NewBridge builds a Bridge that pops from listKey and forwards to
// sender.
func NewBridge(redis *Client, sender Sender, listKey string) *Bridge {
	return &Bridge{redis: redis, sender: sender, listKey: listKey, stopCh: make(chan struct{})}
}

// Run blocks, watching the command list until Stop is called.
func (b *Bridge) Run() {
	log.Printf("telemetry: starting command bridge on list key: %s", b.listKey)
	for {
		select {
		case <-b.stopCh:
			log.Printf("telemetry: stopping command bridge")
			return
		default:
			result, err := b.redis.client.BRPop(b.redis.ctx, 1*time.Second, b.listKey).Result()
			if err != nil {
				if err != redis.Nil {
					log.Printf("telemetry: error receiving from %s: %v", b.listKey, err)
				}
				continue
			}
			if len(result) != 2 {
				log.Printf("telemetry: unexpected BRPOP result from %s: %v", b.listKey, result)
				continue
			}
			b.handle(result[1])
		}
	}
}

func (b *Bridge) handle(raw string) {
	var req CommandRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		log.Printf("telemetry: malformed command request: %v", err)
		return
	}

	var cmd command.Command
	switch req.Tag {
	case "led":
		if req.Led == nil {
			log.Printf("telemetry: led command request missing led data")
			return
		}
		cmd = b.sender.NewLedCommand(req.Target, *req.Led)
	case "sound":
		if req.Sound == nil {
			log.Printf("telemetry: sound command request missing sound data")
			return
		}
		cmd = b.sender.NewSoundCommand(req.Target, *req.Sound)
	case "move":
		if req.Move == nil {
			log.Printf("telemetry: move command request missing move data")
			return
		}
		cmd = b.sender.NewMoveCommand(req.Target, *req.Move)
	default:
		log.Printf("telemetry: unknown command request tag: %q", req.Tag)
		return
	}

	if !b.sender.Send(cmd) {
		log.Printf("telemetry: failed to send command id=%d", cmd.ID)
	}
}

// Stop signals Run to return.
func (b *Bridge) Stop() { close(b.stopCh) }
