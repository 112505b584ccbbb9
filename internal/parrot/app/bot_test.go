package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bdobrica/Parrot/common/retry"
	"github.com/bdobrica/Parrot/internal/parrot/cache"
	"github.com/bdobrica/Parrot/internal/parrot/chain"
	"github.com/bdobrica/Parrot/internal/parrot/chainstore"
	"github.com/bdobrica/Parrot/internal/parrot/config"
	"github.com/bdobrica/Parrot/internal/parrot/matrix"
	"github.com/bdobrica/Parrot/internal/parrot/metrics"
)

const (
	botID  = "@parrot:example.org"
	roomID = "!room:example.org"
)

type sentReply struct {
	roomID, eventID, text string
}

// fakeClient records replies and serves canned media and event senders.
type fakeClient struct {
	mu        sync.Mutex
	replies   []sentReply
	files     map[string][]byte
	senders   map[string]string
	sendFails int
}

func newFakeClient() *fakeClient {
	return &fakeClient{files: map[string][]byte{}, senders: map[string]string{}}
}

func (f *fakeClient) UserID() string { return botID }

func (f *fakeClient) SendReply(_ context.Context, roomID, eventID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFails > 0 {
		f.sendFails--
		return errors.New("homeserver unavailable")
	}
	f.replies = append(f.replies, sentReply{roomID, eventID, text})
	return nil
}

func (f *fakeClient) Download(_ context.Context, uri string) ([]byte, error) {
	data, ok := f.files[uri]
	if !ok {
		return nil, retry.Permanent(errors.New("M_NOT_FOUND"))
	}
	return data, nil
}

func (f *fakeClient) SenderOf(_ context.Context, _, eventID string) (string, error) {
	s, ok := f.senders[eventID]
	if !ok {
		return "", errors.New("M_NOT_FOUND")
	}
	return s, nil
}

func (f *fakeClient) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.replies...)
}

type botFixture struct {
	bot     *Bot
	client  *fakeClient
	cache   *cache.Cache
	store   *chainstore.Dir
	metrics *metrics.Metrics
}

func newTestBot(t *testing.T, cfg config.Bot) *botFixture {
	t.Helper()
	store := chainstore.NewDir(t.TempDir())
	m := metrics.New(prometheus.NewRegistry())
	c := cache.New(store, 0, m)
	client := newFakeClient()
	b := NewBot(client, c, cfg, m)
	b.rng = rand.New(rand.NewPCG(1, 2))
	b.retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return &botFixture{bot: b, client: client, cache: c, store: store, metrics: m}
}

func (f *botFixture) count(t *testing.T, from, next chain.Token) int {
	t.Helper()
	shared, err := f.cache.GetChain(context.Background(), matrix.SessionID(roomID))
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	var n int
	shared.Do(func(c *chain.Chain) error {
		n = c.Count(from, next)
		return nil
	})
	return n
}

func text(eventID, sender, body string) matrix.Message {
	return matrix.Message{RoomID: roomID, EventID: eventID, Sender: sender, Kind: matrix.KindText, Body: body}
}

func TestBot_LearnsAndPersists(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 1})
	ctx := context.Background()

	f.bot.HandleMessage(ctx, text("$1", "@alice:example.org", "hello world"))

	if got := f.count(t, chain.Word("hello"), chain.Word("world")); got != 1 {
		t.Errorf("count(hello, world) = %d, want 1", got)
	}
	if len(f.client.sent()) != 0 {
		t.Errorf("unprompted reply with reply_divisor 0: %v", f.client.sent())
	}
	data, found, err := f.store.Load(ctx, matrix.SessionID(roomID))
	if err != nil || !found {
		t.Fatalf("stored chain: found=%v err=%v", found, err)
	}
	if !strings.Contains(string(data), `"hello"`) {
		t.Errorf("stored chain %s lacks fed word", data)
	}
	if got := testutil.ToFloat64(f.metrics.MessagesFed); got != 1 {
		t.Errorf("messages fed = %v, want 1", got)
	}
}

func TestBot_IgnoresOwnAndBlankMessages(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 1, MinReplyWords: 1})
	ctx := context.Background()

	f.bot.HandleMessage(ctx, text("$1", botID, "hello world"))
	f.bot.HandleMessage(ctx, text("$2", "@alice:example.org", "   "))

	if f.cache.Len() != 0 {
		t.Errorf("cache holds %d sessions, want 0", f.cache.Len())
	}
	if len(f.client.sent()) != 0 {
		t.Errorf("unexpected replies: %v", f.client.sent())
	}
}

func TestBot_RepliesWhenMentioned(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 2})
	msg := text("$1", "@alice:example.org", "hello world")
	msg.MentionsBot = true

	f.bot.HandleMessage(context.Background(), msg)

	sent := f.client.sent()
	if len(sent) != 1 {
		t.Fatalf("replies = %v, want one", sent)
	}
	// "world" only generates itself, so the two-word minimum forces the
	// "hello" seed.
	if sent[0] != (sentReply{roomID, "$1", "hello world"}) {
		t.Errorf("reply = %+v", sent[0])
	}
	if got := testutil.ToFloat64(f.metrics.RepliesSent); got != 1 {
		t.Errorf("replies sent = %v, want 1", got)
	}
}

func TestBot_RepliesToRepliesAddressedToIt(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 1})
	f.client.senders["$mine"] = botID
	f.client.senders["$theirs"] = "@bob:example.org"
	ctx := context.Background()

	other := text("$1", "@alice:example.org", "good morning")
	other.ReplyTo = "$theirs"
	f.bot.HandleMessage(ctx, other)
	if len(f.client.sent()) != 0 {
		t.Fatalf("replied to a reply addressed to someone else: %v", f.client.sent())
	}

	mine := text("$2", "@alice:example.org", "good morning")
	mine.ReplyTo = "$mine"
	f.bot.HandleMessage(ctx, mine)
	sent := f.client.sent()
	if len(sent) != 1 || sent[0].eventID != "$2" {
		t.Fatalf("replies = %v, want one to $2", sent)
	}
}

func TestBot_ReplyDivisorOneAlwaysReplies(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 1, MinReplyWords: 1})
	ctx := context.Background()
	for i, body := range []string{"one two", "two three", "three one"} {
		f.bot.HandleMessage(ctx, text("$"+string(rune('a'+i)), "@alice:example.org", body))
	}
	if got := len(f.client.sent()); got != 3 {
		t.Errorf("replies = %d, want 3", got)
	}
}

func TestBot_NoCandidateNoReply(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 1, MinReplyWords: 5})
	f.bot.HandleMessage(context.Background(), text("$1", "@alice:example.org", "too short"))
	if len(f.client.sent()) != 0 {
		t.Errorf("unexpected replies: %v", f.client.sent())
	}
}

func TestBot_RetriesFailedSend(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 1, MinReplyWords: 1})
	f.client.sendFails = 2

	f.bot.HandleMessage(context.Background(), text("$1", "@alice:example.org", "hello"))

	if got := len(f.client.sent()); got != 1 {
		t.Errorf("replies = %d, want 1 after retries", got)
	}
	if got := testutil.ToFloat64(f.metrics.HandlerErrors); got != 0 {
		t.Errorf("handler errors = %v, want 0", got)
	}
}

func fileMsg(eventID, name, url string) matrix.Message {
	return matrix.Message{
		RoomID: roomID, EventID: eventID, Sender: "@alice:example.org",
		Kind: matrix.KindFile, Body: name, FileName: name, FileURL: url,
	}
}

func TestBot_TrainsFromExport(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 1})
	f.client.files["mxc://example.org/export"] = []byte(`{"messages":[
		{"type":"message","text":"hello world"},
		{"type":"service","text":"joined"},
		{"type":"message","text":["hello ",{"type":"bold","text":"there"}]}
	]}`)

	f.bot.HandleMessage(context.Background(), fileMsg("$1", "Result.JSON", "mxc://example.org/export"))

	sent := f.client.sent()
	if len(sent) != 1 || sent[0].text != "Trained on 2 messages" {
		t.Fatalf("replies = %v", sent)
	}
	if got := f.count(t, chain.Word("hello"), chain.Word("world")); got != 1 {
		t.Errorf("count(hello, world) = %d, want 1", got)
	}
	if got := f.count(t, chain.Word("hello"), chain.Word("there")); got != 1 {
		t.Errorf("count(hello, there) = %d, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.TrainingRuns); got != 1 {
		t.Errorf("training runs = %v, want 1", got)
	}
}

func TestBot_IgnoresOtherFiles(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 1, MinReplyWords: 1})
	f.client.files["mxc://example.org/pic"] = []byte("not json")

	f.bot.HandleMessage(context.Background(), fileMsg("$1", "cat.png", "mxc://example.org/pic"))

	if len(f.client.sent()) != 0 || f.cache.Len() != 0 {
		t.Errorf("non-export file was processed: replies=%v sessions=%d", f.client.sent(), f.cache.Len())
	}
}

func TestBot_BadExportReportsError(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 1})
	f.client.files["mxc://example.org/bad"] = []byte(`{"chats":[]}`)

	f.bot.HandleMessage(context.Background(), fileMsg("$1", "bad.json", "mxc://example.org/bad"))

	sent := f.client.sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].text, "Could not train on bad.json") {
		t.Fatalf("replies = %v", sent)
	}
	if got := testutil.ToFloat64(f.metrics.HandlerErrors); got != 1 {
		t.Errorf("handler errors = %v, want 1", got)
	}
}

func TestBot_MissingMediaIsHandlerError(t *testing.T) {
	f := newTestBot(t, config.Bot{ReplyDivisor: 0, MinReplyWords: 1})

	f.bot.HandleMessage(context.Background(), fileMsg("$1", "gone.json", "mxc://example.org/gone"))

	if len(f.client.sent()) != 0 {
		t.Errorf("unexpected replies: %v", f.client.sent())
	}
	if got := testutil.ToFloat64(f.metrics.HandlerErrors); got != 1 {
		t.Errorf("handler errors = %v, want 1", got)
	}
}
