package sms

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"shop-auth/internal/util"
)

// Message is one queued SMS delivery.
type Message struct {
	Phone string
	Body  string
}

// DispatcherConfig bounds delivery behavior.
type DispatcherConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	QueueSize   int
	Workers     int
}

// Dispatcher delivers messages asynchronously. Enqueue never blocks the
// caller: the message goes onto a bounded queue and a worker pool
// drains it, retrying each delivery with a fixed backoff. A delivery
// that exhausts its attempts is dropped and logged; the issuing request
// has long since returned.
type Dispatcher struct {
	channel Channel
	cfg     DispatcherConfig
	queue   chan Message
	group   *errgroup.Group
	cancel  context.CancelFunc
}

func NewDispatcher(channel Channel, cfg DispatcherConfig) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		channel: channel,
		cfg:     cfg,
		queue:   make(chan Message, cfg.QueueSize),
		group:   group,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return d
}

// Enqueue accepts a message for delivery without blocking. When the
// queue is full the message is dropped and logged, the same outcome as
// a delivery that exhausts its retries.
func (d *Dispatcher) Enqueue(msg Message) {
	select {
	case d.queue <- msg:
	default:
		util.Error("sms queue full, dropping message",
			util.String("phone", util.MaskPhone(msg.Phone)))
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewConstant(d.cfg.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := d.channel.Send(ctx, msg.Phone, msg.Body); err != nil {
			util.Warn("sms delivery attempt failed",
				util.String("phone", util.MaskPhone(msg.Phone)),
				util.Int("attempt", attempt),
				util.ErrorField(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		util.Error("sms delivery abandoned",
			util.String("phone", util.MaskPhone(msg.Phone)),
			util.Int("attempts", attempt),
			util.ErrorField(err))
		return
	}

	util.Info("sms delivered",
		util.String("phone", util.MaskPhone(msg.Phone)),
		util.Int("attempts", attempt))
}

// Close stops accepting messages, lets the workers drain what is
// already queued, and waits for them to exit.
func (d *Dispatcher) Close() {
	close(d.queue)
	_ = d.group.Wait()
	d.cancel()
}
