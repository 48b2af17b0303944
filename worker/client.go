package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/domino14/gambit/config"
	"github.com/domino14/gambit/position"
)

// Client is an evaluator that ships each batch to an EvalWorker over NATS
// request/reply.
type Client struct {
	nc       *nats.Conn
	owned    bool
	subject  string
	timeout  time.Duration
	attempts uint
}

func NewClient(nc *nats.Conn, subject string, timeout time.Duration, attempts int) *Client {
	if attempts < 1 {
		attempts = 1
	}
	return &Client{nc: nc, subject: subject, timeout: timeout, attempts: uint(attempts)}
}

// Dial connects to the configured NATS server. The returned client owns the
// connection and closes it in Close.
func Dial(cfg *config.Config) (*Client, error) {
	url := cfg.GetString(config.ConfigNatsURL)
	nc, err := nats.Connect(url, nats.Name("gambit-eval-client"))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	c := NewClient(nc, cfg.GetString(config.ConfigNatsSubject),
		cfg.GetDuration(config.ConfigNatsTimeout), cfg.GetInt(config.ConfigNatsAttempts))
	c.owned = true
	log.Info().Str("nats-url", url).Str("subject", c.subject).Msg("remote-evaluator-connected")
	return c, nil
}

func (c *Client) ScoreBatch(ctx context.Context, positions []position.Position) ([]float32, error) {
	data, err := EncodeRequest(positions)
	if err != nil {
		return nil, err
	}
	var scores []float32
	err = retry.Do(
		func() error {
			rctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			msg, err := c.nc.RequestWithContext(rctx, c.subject, data)
			if err != nil {
				return err
			}
			scores, err = DecodeScores(msg.Data)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if len(scores) != len(positions) {
				return retry.Unrecoverable(fmt.Errorf("%w: sent %d positions, got %d scores",
					ErrBadPayload, len(positions), len(scores)))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.LastErrorOnly(true),
		retry.Delay(20*time.Millisecond),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("n", n).Int("batch-size", len(positions)).
				Msg("remote-eval-retry")
		}),
	)
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (c *Client) Close() {
	if c.owned {
		c.nc.Close()
	}
}
