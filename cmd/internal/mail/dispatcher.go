package mail

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResultObserver is told the outcome of every delivery attempt ("sent", "failed" or "dropped").
type ResultObserver interface {
	MailResult(result string)
}

// DispatcherConfig sizes the background delivery pool.
type DispatcherConfig struct {
	Workers     int           `env:"WORKERS" envDefault:"2"`
	QueueSize   int           `env:"QUEUE_SIZE" envDefault:"256"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
}

// Dispatcher sends messages asynchronously on a bounded queue.
// Enqueue never blocks; a full queue drops the message.
type Dispatcher struct {
	sender   Sender
	log      *zap.Logger
	observer ResultObserver
	cfg      DispatcherConfig

	queue     chan Message
	stopCh    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	// mu orders Enqueue's send against Stop, so no message lands after the final drain.
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a dispatcher. Call Start before Enqueue takes effect.
func NewDispatcher(sender Sender, logger *zap.Logger, cfg DispatcherConfig, observer ResultObserver) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewLogSender(logger)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Dispatcher{
		sender:   sender,
		log:      logger,
		observer: observer,
		cfg:      cfg,
		queue:    make(chan Message, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
		d.log.Info("mail dispatcher started",
			zap.Int("workers", d.cfg.Workers),
			zap.Int("queue_size", d.cfg.QueueSize))
	})
}

// Stop stops accepting work, delivers what is already queued and waits for the workers.
// Messages still queued on a dispatcher that was never started are counted as dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.stopCh)
		d.mu.Unlock()

		d.wg.Wait()
		for {
			select {
			case m := <-d.queue:
				d.drop(m, "stopped")
			default:
				d.log.Info("mail dispatcher stopped")
				return
			}
		}
	})
}

// Enqueue schedules m for delivery and reports whether it was accepted.
// After Stop every message is dropped.
func (d *Dispatcher) Enqueue(m Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(m, "stopped")
		return false
	}
	select {
	case d.queue <- m:
		return true
	default:
		d.drop(m, "queue_full")
		return false
	}
}

func (d *Dispatcher) drop(m Message, reason string) {
	d.observe("dropped")
	d.log.Warn("mail.drop", zap.String("to", maskAddress(m.To)), zap.String("reason", reason))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.queue:
			d.deliver(m)
		case <-d.stopCh:
			for {
				select {
				case m := <-d.queue:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, m); err != nil {
		d.observe("failed")
		d.log.Warn("mail.send.fail", zap.String("to", maskAddress(m.To)), zap.String("subject", m.Subject), zap.Error(err))
		return
	}
	d.observe("sent")
}

func (d *Dispatcher) observe(result string) {
	if d.observer != nil {
		d.observer.MailResult(result)
	}
}
