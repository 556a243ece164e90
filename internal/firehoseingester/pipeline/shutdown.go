package pipeline

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type State int

const (
	Running State = iota
	StoppingFeed
	Draining
	Terminating
	Exited
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case StoppingFeed:
		return "StoppingFeed"
	case Draining:
		return "Draining"
	case Terminating:
		return "Terminating"
	case Exited:
		return "Exited"
	default:
		return "Unknown"
	}
}

type FeedStopper interface {
	Stop()
}

type Drainable interface {
	Empty() bool
}

// ShutdownCoordinator stops the pipeline in order: the feed is stopped, the queue is left to drain, and only then are
// the workers told to exit.  A second shutdown request while the feed is stopping or the queue is draining skips
// straight to stopping the workers.
type ShutdownCoordinator struct {
	feed               FeedStopper
	queue              Drainable
	cancelWorkers      context.CancelFunc
	workersDone        <-chan struct{}
	drainPollInterval  time.Duration
	terminationTimeout time.Duration
	clock              clock.WithTicker
	onTransition       func(State)

	mu          sync.Mutex
	state       State
	escalated   bool
	escalate    chan struct{}
	stopping    chan struct{}
	terminating chan struct{}
	exited      chan struct{}
}

// NewShutdownCoordinator creates a coordinator for a pipeline whose workers are stopped by cancelWorkers and which
// closes workersDone once every worker has exited.
func NewShutdownCoordinator(
	feed FeedStopper,
	queue Drainable,
	cancelWorkers context.CancelFunc,
	workersDone <-chan struct{},
	drainPollInterval time.Duration,
	terminationTimeout time.Duration,
) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		feed:               feed,
		queue:              queue,
		cancelWorkers:      cancelWorkers,
		workersDone:        workersDone,
		drainPollInterval:  drainPollInterval,
		terminationTimeout: terminationTimeout,
		clock:              clock.RealClock{},
		state:              Running,
		escalate:           make(chan struct{}),
		stopping:           make(chan struct{}),
		terminating:        make(chan struct{}),
		exited:             make(chan struct{}),
	}
}

func (c *ShutdownCoordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestShutdown starts the shutdown sequence and returns immediately.  It is safe to call from any goroutine.
func (c *ShutdownCoordinator) RequestShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Running:
		log.Info("Shutdown requested")
		c.transition(StoppingFeed)
		close(c.stopping)
		go c.shutdown()
	case StoppingFeed, Draining:
		if !c.escalated {
			log.Warn("Second shutdown request received; no longer waiting for the queue to drain")
			c.escalated = true
			close(c.escalate)
		}
	default:
		log.Debugf("Ignoring shutdown request while %s", c.state)
	}
}

// Stopping is closed as soon as shutdown has been requested
func (c *ShutdownCoordinator) Stopping() <-chan struct{} {
	return c.stopping
}

// Terminating is closed once the workers are being stopped.  From then on nothing takes frames off the queue.
func (c *ShutdownCoordinator) Terminating() <-chan struct{} {
	return c.terminating
}

// Done is closed once the coordinator has reached Exited
func (c *ShutdownCoordinator) Done() <-chan struct{} {
	return c.exited
}

// Wait blocks until the coordinator has reached Exited
func (c *ShutdownCoordinator) Wait() {
	<-c.exited
}

func (c *ShutdownCoordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(s)
}

// transition must be called with mu held
func (c *ShutdownCoordinator) transition(s State) {
	log.Infof("Shutdown: %s -> %s", c.state, s)
	c.state = s
	if c.onTransition != nil {
		c.onTransition(s)
	}
}

func (c *ShutdownCoordinator) shutdown() {
	c.feed.Stop()

	c.setState(Draining)
	c.drain()

	c.setState(Terminating)
	close(c.terminating)
	c.cancelWorkers()
	select {
	case <-c.workersDone:
	case <-c.clock.After(c.terminationTimeout):
		log.Errorf("Workers did not exit within %s", c.terminationTimeout)
	}

	c.setState(Exited)
	close(c.exited)
}

func (c *ShutdownCoordinator) drain() {
	ticker := c.clock.NewTicker(c.drainPollInterval)
	defer ticker.Stop()
	for !c.queue.Empty() {
		select {
		case <-ticker.C():
		case <-c.escalate:
			return
		}
	}
}
