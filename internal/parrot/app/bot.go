package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/bdobrica/Parrot/common/retry"
	"github.com/bdobrica/Parrot/common/trace"
	"github.com/bdobrica/Parrot/internal/parrot/cache"
	"github.com/bdobrica/Parrot/internal/parrot/chain"
	"github.com/bdobrica/Parrot/internal/parrot/config"
	"github.com/bdobrica/Parrot/internal/parrot/matrix"
	"github.com/bdobrica/Parrot/internal/parrot/metrics"
	"github.com/bdobrica/Parrot/internal/parrot/observability"
	"github.com/bdobrica/Parrot/internal/parrot/training"
)

// roomClient is the part of the Matrix client the bot talks through.
type roomClient interface {
	UserID() string
	SendReply(ctx context.Context, roomID, eventID, text string) error
	Download(ctx context.Context, uri string) ([]byte, error)
	SenderOf(ctx context.Context, roomID, eventID string) (string, error)
}

// Bot learns from room messages and answers with generated text. Each room
// has its own chain, keyed by matrix.SessionID.
type Bot struct {
	client  roomClient
	cache   *cache.Cache
	cfg     config.Bot
	metrics *metrics.Metrics
	retry   retry.Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewBot returns a bot that keeps its chains in c.
func NewBot(client roomClient, c *cache.Cache, cfg config.Bot, m *metrics.Metrics) *Bot {
	if m == nil {
		m = metrics.Discard()
	}
	return &Bot{
		client:  client,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		retry:   retry.DefaultConfig,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// HandleMessage is the matrix.MessageHandler for the bot.
func (b *Bot) HandleMessage(ctx context.Context, msg matrix.Message) {
	if msg.Sender == b.client.UserID() {
		return
	}
	ctx = trace.WithTraceID(ctx, trace.GenerateID())
	log := observability.WithTrace(ctx).With("room", msg.RoomID, "event", msg.EventID)

	var err error
	switch msg.Kind {
	case matrix.KindFile:
		if !isTrainingFile(msg.FileName) {
			return
		}
		err = b.train(ctx, msg)
	case matrix.KindText:
		err = b.learnAndTalk(ctx, msg)
	}
	if err != nil {
		b.metrics.HandlerErrors.Inc()
		log.Error("message handling failed", "err", err)
	}
}

func isTrainingFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

// train feeds every message of an uploaded chat export into the room's chain.
func (b *Bot) train(ctx context.Context, msg matrix.Message) error {
	log := observability.WithTrace(ctx)
	sessionID := matrix.SessionID(msg.RoomID)

	var data []byte
	err := retry.Do(ctx, b.retry, func() error {
		var err error
		data, err = b.client.Download(ctx, msg.FileURL)
		return err
	})
	if err != nil {
		return fmt.Errorf("download training file: %w", err)
	}

	texts, err := training.Parse(data)
	if err != nil {
		b.reply(ctx, msg, fmt.Sprintf("Could not train on %s: %v", msg.FileName, err))
		return fmt.Errorf("parse training file %s: %w", msg.FileName, err)
	}

	shared, err := b.cache.GetChain(ctx, sessionID)
	if err != nil {
		return err
	}
	err = shared.Do(func(c *chain.Chain) error {
		for _, t := range texts {
			c.FeedString(t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.metrics.MessagesFed.Add(float64(len(texts)))
	b.metrics.TrainingRuns.Inc()
	log.Info("trained chain from export", "session_id", sessionID, "file", msg.FileName, "messages", len(texts))

	if err := b.cache.SaveChain(ctx, sessionID); err != nil {
		return err
	}
	return b.reply(ctx, msg, fmt.Sprintf("Trained on %d messages", len(texts)))
}

// learnAndTalk feeds a text message into the room's chain and then decides
// whether to answer it.
func (b *Bot) learnAndTalk(ctx context.Context, msg matrix.Message) error {
	words := strings.Fields(msg.Body)
	if len(words) == 0 {
		return nil
	}
	sessionID := matrix.SessionID(msg.RoomID)
	shared, err := b.cache.GetChain(ctx, sessionID)
	if err != nil {
		return err
	}
	err = shared.Do(func(c *chain.Chain) error {
		c.Feed(words)
		return nil
	})
	if err != nil {
		return err
	}
	b.metrics.MessagesFed.Inc()
	if err := b.cache.SaveChain(ctx, sessionID); err != nil {
		return err
	}

	if !b.shouldReply(ctx, msg) {
		return nil
	}
	text, err := b.compose(shared, words)
	if err != nil {
		return err
	}
	if text == "" {
		observability.WithTrace(ctx).Debug("no reply candidate", "session_id", sessionID)
		return nil
	}
	if err := b.reply(ctx, msg, text); err != nil {
		return err
	}
	b.metrics.RepliesSent.Inc()
	return nil
}

// shouldReply is true for messages that mention the bot or reply to it, and
// for one in ReplyDivisor of the rest.
func (b *Bot) shouldReply(ctx context.Context, msg matrix.Message) bool {
	if msg.MentionsBot {
		return true
	}
	if msg.ReplyTo != "" {
		sender, err := b.client.SenderOf(ctx, msg.RoomID, msg.ReplyTo)
		if err != nil {
			observability.WithTrace(ctx).Warn("could not resolve reply target", "reply_to", msg.ReplyTo, "err", err)
		} else if sender == b.client.UserID() {
			return true
		}
	}
	if b.cfg.ReplyDivisor <= 0 {
		return false
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.IntN(b.cfg.ReplyDivisor) == 0
}

// compose tries the message's words as seeds in random order and returns the
// first generated line with at least MinReplyWords words, or "".
func (b *Bot) compose(shared *cache.Shared, words []string) (string, error) {
	seeds := append([]string(nil), words...)
	b.rngMu.Lock()
	b.rng.Shuffle(len(seeds), func(i, j int) { seeds[i], seeds[j] = seeds[j], seeds[i] })
	b.rngMu.Unlock()

	var out string
	err := shared.Do(func(c *chain.Chain) error {
		for _, seed := range seeds {
			line, err := c.GenerateStringFrom(seed)
			if err != nil {
				return err
			}
			if line != "" && len(strings.Fields(line)) >= b.cfg.MinReplyWords {
				out = line
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (b *Bot) reply(ctx context.Context, msg matrix.Message, text string) error {
	return retry.Do(ctx, b.retry, func() error {
		return b.client.SendReply(ctx, msg.RoomID, msg.EventID, text)
	})
}
