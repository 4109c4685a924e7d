package voice

import (
	"errors"
	"strings"
	"sync"
)

// ErrUnsupported is reported by a Recognizer whose platform offers no
// speech capability. It is a capability signal, not a failure.
var ErrUnsupported = errors.New("speech recognition unsupported")

// Segment is one hypothesis delivered by the recognizer, with its
// finality flag.
type Segment struct {
	Text  string
	Final bool
}

// ResultEvent carries the complete, ordered list of segments produced so
// far in the current recognition pass. Recognizers must resend the full
// list on every event, not a delta.
type ResultEvent struct {
	Segments []Segment
}

// Recognizer is the platform speech capability boundary.
type Recognizer interface {
	// Start begins a recognition pass. Events, errors and the natural end
	// of the pass are delivered through the given callbacks, possibly from
	// another goroutine. Returns ErrUnsupported when the platform has no
	// speech capability.
	Start(onResult func(ResultEvent), onError func(error), onEnd func()) error
	Stop()
	Abort()
}

// Sink receives the controller's outputs.
type Sink interface {
	// OnDisplay is called with the merged text to render after every
	// recognition event.
	OnDisplay(text string)
	// OnFinalize is called at most once per listening pass, with the
	// fully reconstructed utterance to submit.
	OnFinalize(text string)
	// OnUnsupported is called when listening was requested but the
	// platform has no speech capability.
	OnUnsupported()
}

type state int

const (
	stateIdle state = iota
	stateListening
)

// Controller owns the interim/final transcript state machine for one
// dictation surface. The merged text is always recomputed in full from
// the event's complete segment list, never patched incrementally.
type Controller struct {
	mu         sync.Mutex
	recognizer Recognizer
	sink       Sink
	state      state
	baseText   string
	finalized  bool
	pass       int
}

func NewController(recognizer Recognizer, sink Sink) *Controller {
	return &Controller{
		recognizer: recognizer,
		sink:       sink,
	}
}

// normalize collapses runs of whitespace to single spaces and trims the
// ends, so base/final/interim concatenation never produces doubled
// separators.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// merge rebuilds the displayed text from scratch: confirmed segments in
// order, then the single most recent unconfirmed segment.
func merge(baseText string, segments []Segment) string {
	var finals []string
	interim := ""
	for _, seg := range segments {
		if seg.Final {
			finals = append(finals, seg.Text)
		} else {
			interim = seg.Text
		}
	}
	return normalize(baseText + " " + strings.Join(finals, " ") + " " + interim)
}

// StartListening captures the current typed text as the base of the
// reconstruction and begins a recognition pass. Calling it while already
// listening is a no-op.
func (c *Controller) StartListening(currentTypedText string) {
	c.mu.Lock()
	if c.state == stateListening {
		c.mu.Unlock()
		return
	}
	c.state = stateListening
	c.baseText = currentTypedText
	c.finalized = false
	c.pass++
	pass := c.pass
	c.mu.Unlock()

	err := c.recognizer.Start(
		func(ev ResultEvent) { c.handleResult(pass, ev) },
		func(error) { c.endPass(pass) },
		func() { c.endPass(pass) },
	)
	if err != nil {
		c.mu.Lock()
		if c.pass == pass {
			c.state = stateIdle
		}
		c.mu.Unlock()
		if errors.Is(err, ErrUnsupported) {
			c.sink.OnUnsupported()
		}
	}
}

func (c *Controller) handleResult(pass int, ev ResultEvent) {
	c.mu.Lock()
	if c.pass != pass || c.state != stateListening {
		c.mu.Unlock()
		return
	}
	display := merge(c.baseText, ev.Segments)

	hasFinal := false
	for _, seg := range ev.Segments {
		if seg.Final {
			hasFinal = true
			break
		}
	}

	if !hasFinal {
		c.mu.Unlock()
		c.sink.OnDisplay(display)
		return
	}

	// A confirmed segment ends the pass: exactly one finalize event,
	// carrying the full reconstruction.
	c.state = stateIdle
	c.finalized = true
	c.mu.Unlock()

	c.recognizer.Stop()
	c.sink.OnDisplay(display)
	c.sink.OnFinalize(display)
}

// endPass handles recognizer errors and natural end. Whatever partial
// text was displayed stays displayed; no finalize event is emitted.
func (c *Controller) endPass(pass int) {
	c.mu.Lock()
	if c.pass != pass {
		c.mu.Unlock()
		return
	}
	c.state = stateIdle
	c.mu.Unlock()
}

// Stop aborts any in-progress pass. Safe to call at any time, any
// number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasListening := c.state == stateListening
	c.state = stateIdle
	c.pass++
	c.mu.Unlock()

	if wasListening {
		c.recognizer.Abort()
	}
}

// Listening reports whether a recognition pass is in progress.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateListening
}
