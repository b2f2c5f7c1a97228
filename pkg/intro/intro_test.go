package intro

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/localwatch/pkg/cachekey"
)

const (
	testRate      = 1000
	testFrame     = 250 * time.Millisecond
	testFrameSize = 250
)

// signal builds samples whose frame RMS follows amplitudes.
func signal(amplitudes []float64, noise float64, rng *rand.Rand) []int16 {
	out := make([]int16, 0, len(amplitudes)*testFrameSize)
	for _, a := range amplitudes {
		for i := 0; i < testFrameSize; i++ {
			v := a
			if i%2 == 1 {
				v = -a
			}
			v += (rng.Float64()*2 - 1) * noise
			out = append(out, int16(v))
		}
	}
	return out
}

func randomAmplitudes(n int, rng *rand.Rand) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1000 + rng.Float64()*9000
	}
	return out
}

func TestEnvelope(t *testing.T) {
	samples := []int16{3, -3, 3, -3, 4, -4, 4, -4, 1}
	env := Envelope(samples, 4)
	assert.Equal(t, []float64{3, 4}, env)

	assert.Equal(t, []float64{1.5, 2, 3, 3.5}, Smooth([]float64{1, 2, 3, 4}, 3))
	assert.Equal(t, []float64{1, 2}, Smooth([]float64{1, 2}, 1))
}

func TestPearson(t *testing.T) {
	assert.InDelta(t, 1, Pearson([]float64{1, 2, 3}, []float64{10, 20, 30}), 1e-9)
	assert.InDelta(t, -1, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-9)
	assert.Equal(t, float64(0), Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
}

func TestCorrelate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	reference := randomAmplitudes(50, rng)
	target := randomAmplitudes(300, rng)
	for i, v := range reference {
		target[120+i] = v*0.3 + 5
	}

	offset, score := Correlate(target, reference)
	assert.Equal(t, 120, offset)
	assert.InDelta(t, 1, score, 1e-9)
	assert.InDelta(t, score, Pearson(target[120:170], reference), 1e-9)

	offset, _ = Correlate(reference, target)
	assert.Equal(t, -1, offset)
}

type fakeDecoder struct {
	mu      sync.Mutex
	calls   atomic.Int32
	samples map[string][]int16

	// when set, Decode blocks until gate is closed
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeDecoder) set(path string, samples []int16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[path] = samples
}

func (f *fakeDecoder) Decode(ctx context.Context, path string, sampleRate int, maxDuration time.Duration) ([]int16, error) {
	f.calls.Add(1)

	if f.gate != nil {
		f.once.Do(func() { close(f.started) })
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	samples, ok := f.samples[path]
	if !ok {
		return nil, errors.New("undecodable")
	}

	if max := int(maxDuration.Seconds() * float64(sampleRate)); max > 0 && len(samples) > max {
		samples = samples[:max]
	}
	return samples, nil
}

type fixture struct {
	root      string
	source    string
	reference string
	decoder   *fakeDecoder
	detector  *DetectorCtx
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	source := filepath.Join(root, "Show", "Show.S01E01.mkv")
	reference := filepath.Join(root, "Show", "intro.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0755))
	require.NoError(t, os.WriteFile(source, []byte("source"), 0644))
	require.NoError(t, os.WriteFile(reference, []byte("reference"), 0644))

	decoder := &fakeDecoder{samples: map[string][]int16{}}
	config := Config{SampleRate: testRate, Frame: testFrame, Smooth: 3, MinScore: 0.7}
	detector := New(config, cachekey.NewLocator(root), NewFileResolver(root), decoder, nil)

	return &fixture{
		root:      root,
		source:    source,
		reference: reference,
		decoder:   decoder,
		detector:  detector,
	}
}

func TestDetectFindsEmbeddedClip(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(1))

	refAmp := randomAmplitudes(160, rng)
	targetAmp := randomAmplitudes(800, rng)

	// embed at 95s with a different gain
	const offsetFrames = 380
	for i, a := range refAmp {
		targetAmp[offsetFrames+i] = a * 0.5
	}

	f.decoder.set(f.reference, signal(refAmp, 50, rng))
	f.decoder.set(f.source, signal(targetAmp, 50, rng))

	verdict, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)

	assert.Equal(t, StatusOK, verdict.Status)
	assert.InDelta(t, 95, verdict.Start, testFrame.Seconds())
	assert.InDelta(t, verdict.Start+40, verdict.End, 0.001)
	assert.Greater(t, verdict.Score, 0.7)
	assert.Equal(t, f.reference, verdict.Reference)

	start, end, ok := verdict.Window()
	assert.True(t, ok)
	assert.Greater(t, end, start)

	// persisted next to the category cache
	assert.FileExists(t, filepath.Join(f.root, "Show", ".cache", StoreFileName))
	cached, ok := f.detector.Cached("Show/Show.S01E01.mkv")
	require.True(t, ok)
	assert.Equal(t, verdict.Start, cached.Start)
}

func TestDetectSharedFlightOutlivesCaller(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(1))

	refAmp := randomAmplitudes(160, rng)
	targetAmp := randomAmplitudes(800, rng)
	for i, a := range refAmp {
		targetAmp[200+i] = a
	}
	f.decoder.set(f.reference, signal(refAmp, 50, rng))
	f.decoder.set(f.source, signal(targetAmp, 50, rng))

	f.decoder.gate = make(chan struct{})
	f.decoder.started = make(chan struct{})

	reqCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.detector.Detect(reqCtx, f.source, "Show/Show.S01E01.mkv")
		firstErr <- err
	}()
	<-f.decoder.started

	type result struct {
		verdict Verdict
		err     error
	}
	second := make(chan result, 1)
	go func() {
		v, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
		second <- result{v, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.decoder.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, StatusOK, res.verdict.Status)
	assert.InDelta(t, 50, res.verdict.Start, testFrame.Seconds())

	cached, ok := f.detector.Cached("Show/Show.S01E01.mkv")
	require.True(t, ok)
	assert.Equal(t, StatusOK, cached.Status)
}

func TestDetectLowConfidence(t *testing.T) {
	f := newFixture(t)

	f.decoder.set(f.reference, signal(randomAmplitudes(160, rand.New(rand.NewSource(2))), 50, rand.New(rand.NewSource(3))))
	f.decoder.set(f.source, signal(randomAmplitudes(800, rand.New(rand.NewSource(4))), 50, rand.New(rand.NewSource(5))))

	verdict, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, verdict.Status)
	assert.Equal(t, ReasonLowConfidence, verdict.Reason)
	assert.Less(t, verdict.Score, 0.7)

	_, _, ok := verdict.Window()
	assert.False(t, ok)

	// failure is cached
	calls := f.decoder.calls.Load()
	again, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, again.Status)
	assert.Equal(t, calls, f.decoder.calls.Load())
}

func TestDetectStaleness(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(6))

	f.decoder.set(f.reference, signal(randomAmplitudes(40, rng), 0, rng))
	f.decoder.set(f.source, signal(randomAmplitudes(200, rng), 0, rng))

	_, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.decoder.calls.Load())

	_, err = f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.decoder.calls.Load())

	// source rewritten with a new size and mtime
	require.NoError(t, os.WriteFile(f.source, []byte("a different source"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.source, later, later))

	_, err = f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.decoder.calls.Load())

	// reference changed
	require.NoError(t, os.WriteFile(f.reference, []byte("new reference"), 0644))
	require.NoError(t, os.Chtimes(f.reference, later.Add(time.Hour), later.Add(time.Hour)))

	_, err = f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, int32(6), f.decoder.calls.Load())
}

func TestDetectUnreferenced(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.reference))

	verdict, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, StatusUnreferenced, verdict.Status)
	assert.Equal(t, ReasonNoMapping, verdict.Reason)
	assert.Equal(t, int32(0), f.decoder.calls.Load())

	_, _, ok := verdict.Window()
	assert.False(t, ok)

	// a reference that appears later is picked up
	rng := rand.New(rand.NewSource(8))
	require.NoError(t, os.WriteFile(f.reference, []byte("reference"), 0644))
	f.decoder.set(f.reference, signal(randomAmplitudes(40, rng), 0, rng))
	f.decoder.set(f.source, signal(randomAmplitudes(200, rng), 0, rng))

	verdict, err = f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.NotEqual(t, StatusUnreferenced, verdict.Status)
	assert.Equal(t, int32(2), f.decoder.calls.Load())
}

func TestDetectReferenceUnloadable(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(9))
	f.decoder.set(f.source, signal(randomAmplitudes(200, rng), 0, rng))

	verdict, err := f.detector.Detect(context.Background(), f.source, "Show/Show.S01E01.mkv")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, verdict.Status)
	assert.Equal(t, ReasonReferenceUnloadable, verdict.Reason)
}

func TestDetectMissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.detector.Detect(context.Background(), filepath.Join(f.root, "missing.mkv"), "missing.mkv")
	assert.Error(t, err)
}

func TestFileResolver(t *testing.T) {
	root := t.TempDir()
	show := filepath.Join(root, "Show")
	season := filepath.Join(show, "Season 2")
	require.NoError(t, os.MkdirAll(season, 0755))

	source := filepath.Join(season, "Show.S02E03.mkv")
	require.NoError(t, os.WriteFile(source, nil, 0644))

	r := NewFileResolver(root)

	_, err := r.Resolve(source)
	assert.ErrorIs(t, err, ErrNoMapping)

	plain := filepath.Join(show, "intro.mp3")
	require.NoError(t, os.WriteFile(plain, nil, 0644))
	ref, err := r.Resolve(source)
	require.NoError(t, err)
	assert.Equal(t, plain, ref)

	seasonal := filepath.Join(show, "intro-s02.m4a")
	require.NoError(t, os.WriteFile(seasonal, nil, 0644))
	ref, err = r.Resolve(source)
	require.NoError(t, err)
	assert.Equal(t, seasonal, ref)

	// marker beats files in the same directory
	require.NoError(t, os.WriteFile(filepath.Join(show, ReferenceMarker), []byte("# refs\nS01: clips/one.mp3\nS02: clips/two.mp3\ndefault: intro.mp3\n"), 0644))
	_, err = r.Resolve(source)
	var missing *MissingReferenceError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, filepath.Join(show, "clips", "two.mp3"), missing.Path)

	require.NoError(t, os.MkdirAll(filepath.Join(show, "clips"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(show, "clips", "two.mp3"), nil, 0644))
	ref, err = r.Resolve(source)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(show, "clips", "two.mp3"), ref)

	// default line for a season without mapping
	other := filepath.Join(season, "Show.S03E01.mkv")
	ref, err = r.Resolve(other)
	require.NoError(t, err)
	assert.Equal(t, plain, ref)
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	s := &Store{}

	_, ok, err := s.Get(dir, "a.mkv")
	require.NoError(t, err)
	assert.False(t, ok)

	v := Verdict{Status: StatusOK, Start: 10, End: 40, Score: 0.9, Source: Fingerprint{Size: 1, ModTime: 2}}
	require.NoError(t, s.Put(dir, "a.mkv", v))
	require.NoError(t, s.Put(dir, "b.mkv", Verdict{Status: StatusUnreferenced, Reason: ReasonNoMapping}))

	got, ok, err := s.Get(dir, "a.mkv")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.Start, got.Start)
	assert.Equal(t, v.Source, got.Source)

	// corrupt store is rebuilt
	require.NoError(t, os.WriteFile(filepath.Join(dir, StoreFileName), []byte("{"), 0644))
	_, ok, err = s.Get(dir, "a.mkv")
	require.NoError(t, err)
	assert.False(t, ok)
}
