package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krishng03/yt-sum/shared/logging"
)

// State is the user-visible save indicator.
type State string

const (
	StateIdle   State = "idle"
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateError  State = "error"
)

// Saver persists the latest notes content.
type Saver interface {
	Save(ctx context.Context, content string) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, content string) error

func (f SaverFunc) Save(ctx context.Context, content string) error {
	return f(ctx, content)
}

type Options struct {
	// Delay is the quiet period after the last edit before saving.
	Delay time.Duration
	// SavedDisplay and ErrorDisplay are how long the saved and error states
	// are shown before returning to idle.
	SavedDisplay time.Duration
	ErrorDisplay time.Duration
	// SaveTimeout bounds a single save call. Zero means no bound.
	SaveTimeout time.Duration
	// OnStateChange is called with the controller lock held and must not call
	// back into the Controller.
	OnStateChange func(State)
}

// DefaultOptions derives the delays from one time unit: save after 1 unit of
// quiet, show saved for 2 and error for 3.
func DefaultOptions(unit time.Duration) Options {
	if unit <= 0 {
		unit = time.Second
	}
	return Options{
		Delay:        unit,
		SavedDisplay: 2 * unit,
		ErrorDisplay: 3 * unit,
	}
}

// Controller debounces note edits into saves. At most one save runs at a
// time and it always carries the content of the most recent edit.
type Controller struct {
	saver  Saver
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	content    string
	lastSaved  string
	state      State
	generation uint64 // bumped on every edit; a timer only fires for its own
	debounce   *time.Timer
	reset      *time.Timer
	closed     bool

	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// New returns a controller whose baseline is the initially loaded content.
func New(saver Saver, initial string, opts Options) *Controller {
	defaults := DefaultOptions(time.Second)
	if opts.Delay <= 0 {
		opts.Delay = defaults.Delay
	}
	if opts.SavedDisplay <= 0 {
		opts.SavedDisplay = defaults.SavedDisplay
	}
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = defaults.ErrorDisplay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		saver:     saver,
		opts:      opts,
		logger:    logging.WithComponent("autosave"),
		ctx:       ctx,
		cancel:    cancel,
		content:   initial,
		lastSaved: initial,
		state:     StateIdle,
	}
}

// Edit records new content and (re)starts the debounce timer.
func (c *Controller) Edit(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.content = content
	c.generation++
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if content == c.lastSaved {
		return
	}

	gen := c.generation
	c.debounce = time.AfterFunc(c.opts.Delay, func() { c.fire(gen) })
}

// State returns the current indicator state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Content returns the latest edited content.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.debounce = nil
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	_ = c.save(c.ctx)
}

// Flush saves the latest content now if it differs from what was last saved.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	return c.save(ctx)
}

func (c *Controller) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	content := c.content
	if content == c.lastSaved {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateSaving)
	c.mu.Unlock()

	if c.opts.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.SaveTimeout)
		defer cancel()
	}
	err := c.saver.Save(ctx, content)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("notes save failed")
		c.setStateLocked(StateError)
		c.scheduleResetLocked(c.opts.ErrorDisplay)
		return err
	}
	c.lastSaved = content
	c.setStateLocked(StateSaved)
	c.scheduleResetLocked(c.opts.SavedDisplay)

	// an edit back to the previous baseline during the save left nothing armed
	if c.content != c.lastSaved && c.debounce == nil && !c.closed {
		gen := c.generation
		c.debounce = time.AfterFunc(c.opts.Delay, func() { c.fire(gen) })
	}
	return nil
}

func (c *Controller) scheduleResetLocked(after time.Duration) {
	if c.reset != nil {
		c.reset.Stop()
	}
	if c.closed {
		return
	}
	c.reset = time.AfterFunc(after, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == StateSaved || c.state == StateError {
			c.setStateLocked(StateIdle)
		}
	})
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// Close cancels pending timers and waits for an in-flight save. Edits after
// Close are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.reset != nil {
		c.reset.Stop()
		c.reset = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
}
