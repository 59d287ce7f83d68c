package progress

import (
	"sync"

	"github.com/jo-hoe/meetscribe/internal/common"
)

// Step identifiers published during job execution.
const (
	StepPreprocessing = "preprocessing"
	StepTranscription = "transcription"
	StepDiarization   = "diarization"
	StepMerge         = "merge"
	StepCompleted     = "completed"
	StepFailed        = "failed"
)

// Event is one incremental status update pushed to subscribers. Percent is
// monotonically non-decreasing within a job. The terminal signal carries no
// payload: it is the subscription channel closing.
type Event struct {
	Step    string `json:"step"`
	Percent int    `json:"progress"`
	Message string `json:"message"`
}

// Channel is a per-job event stream. Publishing never blocks: a slow or
// absent consumer loses events, never stalls the pipeline. Close is
// idempotent and is the terminal signal.
type Channel struct {
	events    chan Event
	closeOnce sync.Once
}

func newChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = common.ProgressBufferSize
	}
	return &Channel{events: make(chan Event, buffer)}
}

// Publish enqueues an event without blocking. When the buffer is full the
// event is dropped; subscribers get no replay guarantee anyway.
func (c *Channel) Publish(event Event) {
	select {
	case c.events <- event:
	default:
	}
}

// Subscribe returns the event stream. The channel is closed after the
// terminal signal; a late subscriber observes only remaining events.
func (c *Channel) Subscribe() <-chan Event {
	return c.events
}

// Close delivers the terminal signal. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.events) })
}

// Registry owns the job-id to progress-channel mapping. It is created at
// process start and passed by handle to the orchestrator and the HTTP
// layer; entries are inserted at submission and removed once the terminal
// signal has been delivered.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Create registers a fresh channel for the job, replacing any stale entry.
func (r *Registry) Create(jobID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := newChannel(common.ProgressBufferSize)
	r.channels[jobID] = ch
	return ch
}

// Get returns the job's channel, or false if the job is unknown or already
// finished.
func (r *Registry) Get(jobID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[jobID]
	return ch, ok
}

// Remove closes the channel if still open and drops the entry. The close is
// unconditional so subscribers can always rely on stream termination.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	ch, ok := r.channels[jobID]
	delete(r.channels, jobID)
	r.mu.Unlock()
	if ok {
		ch.Close()
	}
}

// Len reports the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
