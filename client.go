package elmuds

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/elmuds/internal/syncutil"
	"github.com/rs/zerolog"
)

// Client runs UDS exchanges over one Transport, one at a time.
type Client struct {
	mu        syncutil.Mutex
	t         Transport
	cfg       Config
	log       zerolog.Logger
	frameHook func(*CANFrame)
}

type Option func(*Client)

func WithConfig(cfg Config) Option {
	return func(c *Client) {
		c.cfg = cfg.withDefaults()
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithFrameHook registers a func called for every frame sent or monitored
// during an exchange.
func WithFrameHook(fn func(*CANFrame)) Option {
	return func(c *Client) {
		c.frameHook = fn
	}
}

func New(t Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	c := &Client{
		t:   t,
		cfg: DefaultConfig(),
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Exchange sends requestHex to targetID and waits for the reply. capacity
// bounds the number of reply bytes kept. Exchange never returns early on its
// own; the configured timeouts bound it.
func (c *Client) Exchange(targetID uint32, requestHex string, capacity int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	ex := &exchange{
		t:         c.t,
		cfg:       c.cfg,
		log:       c.log.With().Str("target", fmt.Sprintf("0x%03X", targetID)).Logger(),
		frameHook: c.frameHook,
	}
	o := ex.run(targetID, requestHex, capacity)
	o.Request = ex.req
	o.Elapsed = time.Since(start)
	return o
}

// ExchangeRetry repeats Exchange while it times out, at most attempts
// times. ctx only bounds the wait between attempts. The last outcome is
// returned.
func (c *Client) ExchangeRetry(ctx context.Context, targetID uint32, requestHex string, capacity int, attempts uint) Outcome {
	if attempts == 0 {
		attempts = 1
	}
	var out Outcome
	_ = retry.Do(func() error {
		out = c.Exchange(targetID, requestHex, capacity)
		err := out.Err()
		if err != nil && out.Kind != KindTimeout {
			return Unrecoverable(err)
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsRecoverable),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Uint("attempt", n+1).Err(err).Msg("exchange retry")
		}),
		retry.LastErrorOnly(true),
	)
	return out
}
