// Package telegram adapts the Telegram Bot API (via telebot) to the relay:
// an outgoing delivery client for the dispatch pipeline and a long-poll
// listener whose updates feed the health heartbeat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"relaygate/internal/health"
	rtsup "relaygate/internal/runtime/supervisor"
	"relaygate/pkg/logx"
)

type Config struct {
	Token string
	// PollTimeout for the long poller. Default 10s.
	PollTimeout time.Duration
	// SendTimeout bounds one delivery attempt. Default 10s.
	SendTimeout time.Duration
	// SendRatePerSec throttles outgoing deliveries. Default 25.
	SendRatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	beat    *health.Beat

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, beat *health.Beat, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		beat:    beat,
	}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle("/start", func(c tele.Context) error {
		a.stamp()
		return c.Send("Hi! This bot relays messages to chat groups.")
	})
	a.bot.Handle("/ping", func(c tele.Context) error {
		a.stamp()
		return c.Send("pong")
	})
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		// Any inbound traffic proves the poll loop is alive.
		a.stamp()
		return nil
	})
}

func (a *Adapter) stamp() {
	if a.beat != nil {
		a.beat.Stamp()
	}
}

// Deliver sends one text message to one chat, classifying failures into the
// dispatch package's tagged error types.
func (a *Adapter) Deliver(ctx context.Context, chatID int64, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return classifyWait(ctx, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	defer cancel()

	// telebot has no context-aware Send; run it in a goroutine and race the
	// deadline. An attempt that outlives the deadline finishes best-effort
	// but its result is discarded.
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(&tele.Chat{ID: chatID}, text)
		done <- err
	}()

	select {
	case <-sendCtx.Done():
		return classify(sendCtx.Err())
	case err := <-done:
		return classify(err)
	}
}

// Start launches the long poller under a restart loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
		// Poller failures should not take down the relay; deliveries keep
		// working through the same bot token.
		rtsup.WithCancelOnError(false),
	)

	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	a.sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		a.stamp()
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		// Restart if Start() returns while the context is still active.
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

// Stop shuts the poller down, bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
		// Grace window: keep shutdown snappy even if getUpdates long-poll
		// is still waiting.
		wctx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
		}
		if err := sup.Wait(wctx); err != nil {
			a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		}
	}
	return nil
}
