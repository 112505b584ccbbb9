// Package matrix wraps mautrix-go for Parrot.
//
// The client joins the configured rooms (and, optionally, any room it is
// invited to), converts incoming m.room.message events into Message values and
// hands each one to a MessageHandler. Replies, media downloads and reply
// target lookups go back through the same client.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Parrot/common/retry"
	"github.com/bdobrica/Parrot/internal/parrot/config"
)

// Kind classifies an incoming message.
type Kind int

const (
	KindText Kind = iota
	KindFile
)

// Message is the transport-independent view of one incoming room message.
type Message struct {
	RoomID  string
	EventID string
	Sender  string
	Kind    Kind
	Body    string
	// FileURL and FileName are set for KindFile.
	FileURL  string
	FileName string
	// ReplyTo is the event this message replies to, if any.
	ReplyTo string
	// MentionsBot is true when the message explicitly mentions the bot.
	MentionsBot bool
}

// MessageHandler is called for each incoming message on its own goroutine.
type MessageHandler func(ctx context.Context, msg Message)

// SessionID maps a room ID onto the int64 key used by the chain store.
func SessionID(roomID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(roomID))
	return int64(h.Sum64())
}

// Client is the bot-side Matrix client.
type Client struct {
	mxc       *mautrix.Client
	cfg       config.Matrix
	startedAt time.Time
	stopCh    chan struct{}

	mu       sync.Mutex
	stopping bool
	inflight sync.WaitGroup
}

// New creates a client but does not start syncing. When syncDB is non-nil the
// sync position is persisted in it; otherwise an in-memory store is used and
// the bot relies on event timestamps to skip history after a restart.
func New(cfg config.Matrix, syncDB SyncDB) (*Client, error) {
	mxc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	if syncDB != nil {
		mxc.Store = NewDBSyncStore(syncDB)
		slog.Info("matrix sync store: using persistent database store")
	} else {
		slog.Warn("matrix sync store: using in-memory store (sync position is lost on restart)")
	}
	return &Client{mxc: mxc, cfg: cfg, stopCh: make(chan struct{})}, nil
}

// UserID returns the bot's Matrix user ID.
func (c *Client) UserID() string { return c.cfg.UserID }

// Start joins the configured rooms and begins the sync loop in the
// background, calling handler for every message from another user sent after
// Start. The loop reconnects with exponential back-off.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	slog.Warn("Matrix E2EE is not enabled; encrypted rooms are ignored")
	c.startedAt = time.Now()

	syncer := c.mxc.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(_ context.Context, evt *event.Event) {
		if evt.Sender == id.UserID(c.cfg.UserID) {
			return
		}
		if time.UnixMilli(evt.Timestamp).Before(c.startedAt) {
			return
		}
		msg, ok := c.convert(evt)
		if !ok {
			return
		}
		c.dispatch(ctx, handler, msg)
	})
	if c.cfg.AutoJoin {
		syncer.OnEventType(event.StateMember, c.onMember)
	}

	for _, room := range c.cfg.Rooms {
		c.join(ctx, id.RoomID(room))
	}

	go c.syncLoop(ctx)
	return nil
}

func (c *Client) syncLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := c.mxc.SyncWithContext(ctx)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err == nil {
			return
		}
		slog.Error("matrix sync error; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop halts the sync loop and waits for running handlers to return.
// Messages that arrive after Stop begins are dropped.
func (c *Client) Stop() {
	close(c.stopCh)
	c.mxc.StopSync()
	c.drain()
}

// dispatch runs handler for msg on a new goroutine unless the client is
// stopping. It reports whether the handler was started.
func (c *Client) dispatch(ctx context.Context, handler MessageHandler, msg Message) bool {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return false
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		handler(ctx, msg)
	}()
	return true
}

// drain refuses further dispatches and waits for the running ones.
func (c *Client) drain() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.inflight.Wait()
}

// SendReply sends a plain-text reply to eventID in roomID.
func (c *Client) SendReply(ctx context.Context, roomID, eventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	if _, err := c.mxc.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Download fetches an mxc:// URI from the media repository.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, error) {
	parsed, err := id.ContentURIString(uri).Parse()
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parse content uri %q: %w", uri, err))
	}
	data, err := c.mxc.DownloadBytes(ctx, parsed)
	if err != nil {
		return nil, permanentIfRejected(fmt.Errorf("download %s: %w", uri, err))
	}
	return data, nil
}

// permanentIfRejected marks homeserver answers that will not change on retry.
func permanentIfRejected(err error) error {
	if errors.Is(err, mautrix.MNotFound) || errors.Is(err, mautrix.MForbidden) {
		return retry.Permanent(err)
	}
	return err
}

// SenderOf returns the sender of eventID in roomID.
func (c *Client) SenderOf(ctx context.Context, roomID, eventID string) (string, error) {
	evt, err := c.mxc.GetEvent(ctx, id.RoomID(roomID), id.EventID(eventID))
	if err != nil {
		return "", fmt.Errorf("get event %s: %w", eventID, err)
	}
	return evt.Sender.String(), nil
}

// convert extracts a Message from evt. Notices, emotes and unsupported media
// are dropped.
func (c *Client) convert(evt *event.Event) (Message, bool) {
	content := evt.Content.AsMessage()
	if content == nil {
		return Message{}, false
	}
	msg := Message{
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
		Sender:  evt.Sender.String(),
		Body:    content.Body,
	}
	switch content.MsgType {
	case event.MsgText:
		msg.Kind = KindText
	case event.MsgFile:
		msg.Kind = KindFile
		msg.FileURL = string(content.URL)
		msg.FileName = content.FileName
		if msg.FileName == "" {
			msg.FileName = content.Body
		}
	default:
		return Message{}, false
	}
	if rel := content.RelatesTo; rel != nil && rel.InReplyTo != nil {
		msg.ReplyTo = rel.InReplyTo.EventID.String()
	}
	if m := content.Mentions; m != nil && slices.Contains(m.UserIDs, id.UserID(c.cfg.UserID)) {
		msg.MentionsBot = true
	}
	return msg, true
}

func (c *Client) onMember(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if evt.GetStateKey() != c.cfg.UserID {
		return
	}
	slog.Info("accepting room invite", "room", evt.RoomID, "inviter", evt.Sender)
	c.join(ctx, evt.RoomID)
}

// join joins a room. Failures are logged; the homeserver also answers with
// an error when the bot is already a member.
func (c *Client) join(ctx context.Context, roomID id.RoomID) {
	if _, err := c.mxc.JoinRoomByID(ctx, roomID); err != nil {
		slog.Info("join room result", "room", roomID, "err", err)
	}
}
