package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	startErr error
	started  int
	stopped  int
	aborted  int
	onResult func(ResultEvent)
	onError  func(error)
	onEnd    func()
}

func (f *fakeRecognizer) Start(onResult func(ResultEvent), onError func(error), onEnd func()) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.onResult = onResult
	f.onError = onError
	f.onEnd = onEnd
	return nil
}

func (f *fakeRecognizer) Stop()  { f.stopped++ }
func (f *fakeRecognizer) Abort() { f.aborted++ }

type fakeSink struct {
	displays    []string
	finalized   []string
	unsupported int
}

func (f *fakeSink) OnDisplay(text string)  { f.displays = append(f.displays, text) }
func (f *fakeSink) OnFinalize(text string) { f.finalized = append(f.finalized, text) }
func (f *fakeSink) OnUnsupported()         { f.unsupported++ }

func TestMergeRecomputesFromFullSegmentList(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		segments []Segment
		want     string
	}{
		{
			name:     "interim only",
			base:     "",
			segments: []Segment{{Text: "bonjour", Final: false}},
			want:     "bonjour",
		},
		{
			name: "finals then interim",
			base: "",
			segments: []Segment{
				{Text: "bonjour tout", Final: true},
				{Text: "le monde", Final: true},
				{Text: "comment", Final: false},
			},
			want: "bonjour tout le monde comment",
		},
		{
			name:     "base text preserved",
			base:     "Note:",
			segments: []Segment{{Text: "acheter du pain", Final: true}},
			want:     "Note: acheter du pain",
		},
		{
			name:     "whitespace collapsed",
			base:     "  deja   tape  ",
			segments: []Segment{{Text: "  suite ", Final: false}},
			want:     "deja tape suite",
		},
		{
			name:     "empty everything",
			base:     "",
			segments: nil,
			want:     "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, merge(tc.base, tc.segments))
		})
	}
}

func TestMergeIsIdempotentOverEventReplay(t *testing.T) {
	segments := []Segment{
		{Text: "quelle heure", Final: true},
		{Text: "est-il", Final: false},
	}
	first := merge("", segments)
	second := merge("", segments)
	assert.Equal(t, first, second)
}

func TestDisplayUpdatesWhileListening(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")
	require.True(t, c.Listening())

	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle", Final: false}}})
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle heure", Final: false}}})

	assert.Equal(t, []string{"quelle", "quelle heure"}, sink.displays)
	assert.Empty(t, sink.finalized)
	assert.True(t, c.Listening())
}

func TestFinalSegmentEmitsExactlyOneFinalize(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle heure est-il", Final: false}}})
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle heure est-il", Final: true}}})

	require.Equal(t, []string{"quelle heure est-il"}, sink.finalized)
	assert.False(t, c.Listening())
	assert.Equal(t, 1, rec.stopped)

	// a straggler event after the pass ended must not re-finalize
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle heure est-il", Final: true}}})
	assert.Len(t, sink.finalized, 1)
}

func TestFinalizeMergesBaseTypedText(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("Dis-moi")
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "quelle heure il est", Final: true}}})

	require.Len(t, sink.finalized, 1)
	assert.Equal(t, "Dis-moi quelle heure il est", sink.finalized[0])
}

func TestErrorEndsPassWithoutFinalize(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "partiel", Final: false}}})
	rec.onError(assert.AnError)

	assert.False(t, c.Listening())
	assert.Empty(t, sink.finalized)
	assert.Equal(t, []string{"partiel"}, sink.displays)
}

func TestNaturalEndWithoutFinalEmitsNothing(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")
	rec.onEnd()

	assert.False(t, c.Listening())
	assert.Empty(t, sink.finalized)
}

func TestUnsupportedPlatformReportsCapability(t *testing.T) {
	rec := &fakeRecognizer{startErr: ErrUnsupported}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")

	assert.Equal(t, 1, sink.unsupported)
	assert.False(t, c.Listening())
}

func TestStopIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("")
	c.Stop()
	c.Stop()
	c.Stop()

	assert.False(t, c.Listening())
	assert.Equal(t, 1, rec.aborted)

	// events from the aborted pass are dropped
	rec.onResult(ResultEvent{Segments: []Segment{{Text: "tard", Final: true}}})
	assert.Empty(t, sink.finalized)
}

func TestStartListeningWhileListeningIsNoOp(t *testing.T) {
	rec := &fakeRecognizer{}
	sink := &fakeSink{}
	c := NewController(rec, sink)

	c.StartListening("premier")
	c.StartListening("second")

	assert.Equal(t, 1, rec.started)

	rec.onResult(ResultEvent{Segments: []Segment{{Text: "texte", Final: true}}})
	require.Len(t, sink.finalized, 1)
	assert.Equal(t, "premier texte", sink.finalized[0])
}
