package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/starford/carenotes/internal/apperr"
	"github.com/starford/carenotes/internal/sse"
)

// Event is a note change pushed by the server.
type Event struct {
	Type   string
	NoteID string
	Owner  string
}

// Listen subscribes to note change events over a websocket and calls fn for
// each one until ctx is done or the connection drops.
func (c *Client) Listen(ctx context.Context, fn func(Event)) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if tok := c.Token(); tok != "" {
		opts.HTTPHeader.Set("Authorization", "Bearer "+tok)
	}
	conn, resp, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return apperr.Authorization("listen", apperr.ErrUnauthorized)
		}
		return apperr.Transient("listen", err)
	}
	defer conn.CloseNow()

	for {
		var msg sse.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return apperr.Transient("listen", err)
		}
		var data sse.NoteData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Debug("skipping malformed event", slog.String("type", msg.Type), slog.String("error", err.Error()))
			continue
		}
		fn(Event{Type: msg.Type, NoteID: data.ID, Owner: data.Owner})
	}
}

// ListenLoop keeps a Listen subscription alive, reconnecting after backoff
// until ctx is done or the server rejects the token.
func (c *Client) ListenLoop(ctx context.Context, backoff time.Duration, fn func(Event)) error {
	for {
		err := c.Listen(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, apperr.ErrUnauthorized) {
			return err
		}
		if err != nil {
			c.logger.Warn("event stream lost, reconnecting", slog.String("error", err.Error()), slog.Duration("backoff", backoff))
		} else {
			c.logger.Info("event stream closed by server, reconnecting", slog.Duration("backoff", backoff))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}
