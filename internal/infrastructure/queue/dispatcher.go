package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/greenlawn/marketplace-session/internal/api/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// Dispatcher routes delivery tasks to a fixed set of workers using consistent
// hashing on the task key, guaranteeing per-key ordering.
type Dispatcher struct {
	workers []chan func()
	log     zerolog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan func(), numWorkers),
		log:     log,
		stopped: make(chan struct{}),
	}
	for i := range d.workers {
		d.workers[i] = make(chan func(), channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled,
// and from then on Dispatch drops tasks instead of blocking.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		go d.runWorker(ctx, i, ch)
	}
	go func() {
		<-ctx.Done()
		d.stop()
	}()
}

func (d *Dispatcher) stop() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

// Dispatch sends task to the worker responsible for key.
// The call is non-blocking up to channelBuffer capacity. It reports false
// when the dispatcher has stopped and the task was dropped.
func (d *Dispatcher) Dispatch(key string, task func()) bool {
	i := d.shardIndex(key)
	select {
	case <-d.stopped:
		d.log.Debug().Str("key", key).Msg("dispatcher stopped, task dropped")
		return false
	default:
	}
	select {
	case d.workers[i] <- task:
	case <-d.stopped:
		d.log.Debug().Str("key", key).Msg("dispatcher stopped, task dropped")
		return false
	}
	metrics.DeliveryQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(len(d.workers[i])))
	return true
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan func()) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-ch:
			if !ok {
				return
			}
			metrics.DeliveryQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			d.run(id, task)
		}
	}
}

// run executes one task; a panicking handler must not kill the worker.
func (d *Dispatcher) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Int("worker_id", id).Msg("delivery task panicked")
		}
	}()
	task()
}
