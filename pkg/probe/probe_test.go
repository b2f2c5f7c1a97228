package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `{
	"streams": [
		{"codec_name": "mjpeg", "codec_type": "video", "disposition": {"attached_pic": 1}},
		{"codec_name": "hevc", "codec_type": "video", "start_time": "0.042000", "duration": "1400.5"},
		{"codec_name": "eac3", "codec_type": "audio", "channels": 6, "start_time": "0.000000"},
		{"codec_name": "aac", "codec_type": "audio", "channels": 2},
		{"codec_name": "subrip", "codec_type": "subtitle"}
	],
	"format": {"format_name": "matroska,webm", "duration": "1421.250000"}
}`

func TestParse(t *testing.T) {
	meta, err := Parse([]byte(sampleOutput))
	require.NoError(t, err)

	assert.Equal(t, "hevc", meta.VideoCodec)
	assert.Equal(t, "eac3", meta.AudioCodec)
	assert.Equal(t, 6, meta.AudioChannels)
	assert.Equal(t, []string{"matroska", "webm"}, meta.FormatName)
	assert.InDelta(t, 1421.25, meta.Duration.Seconds(), 0.001)
	assert.InDelta(t, -0.042, meta.StartSkew(), 0.0001)

	d, ok := meta.KnownDuration()
	assert.True(t, ok)
	assert.Equal(t, meta.Duration, d)
}

func TestParseDurationFallback(t *testing.T) {
	meta, err := Parse([]byte(`{"streams":[{"codec_name":"h264","codec_type":"video","duration":"12.5"}],"format":{"duration":"N/A"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 12.5, meta.Duration.Seconds(), 0.001)

	meta, err = Parse([]byte(`{"streams":[],"format":{}}`))
	require.NoError(t, err)
	_, ok := meta.KnownDuration()
	assert.False(t, ok)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}

type fakeProber struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*Metadata, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return &Metadata{VideoCodec: "h264"}, nil
}

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.mkv")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	t.Run("memoized and deduplicated", func(t *testing.T) {
		prober := &fakeProber{delay: 20 * time.Millisecond}
		cache := NewCache(prober)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				meta := cache.Get(context.Background(), path)
				assert.NotNil(t, meta)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), prober.calls.Load())
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("file change invalidates", func(t *testing.T) {
		prober := &fakeProber{}
		cache := NewCache(prober)

		cache.Get(context.Background(), path)
		require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0644))
		require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Hour)))
		cache.Get(context.Background(), path)

		assert.Equal(t, int32(2), prober.calls.Load())
	})

	t.Run("failure yields nil", func(t *testing.T) {
		prober := &fakeProber{err: errors.New("boom")}
		cache := NewCache(prober)

		assert.Nil(t, cache.Get(context.Background(), path))
		assert.Nil(t, cache.Get(context.Background(), path))
		assert.Equal(t, int32(1), prober.calls.Load())
	})

	t.Run("missing file yields nil", func(t *testing.T) {
		cache := NewCache(&fakeProber{})
		assert.Nil(t, cache.Get(context.Background(), filepath.Join(t.TempDir(), "missing.mkv")))
	})
}

type blockingProber struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingProber) Probe(ctx context.Context, path string) (*Metadata, error) {
	close(b.started)
	select {
	case <-b.release:
		return &Metadata{VideoCodec: "h264", AudioCodec: "aac"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCacheSharedFlightOutlivesCaller(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.mkv")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	prober := &blockingProber{release: make(chan struct{}), started: make(chan struct{})}
	cache := NewCache(prober)

	reqCtx, cancel := context.WithCancel(context.Background())
	first := make(chan *Metadata, 1)
	go func() { first <- cache.Get(reqCtx, path) }()
	<-prober.started

	second := make(chan *Metadata, 1)
	go func() { second <- cache.Get(context.Background(), path) }()

	cancel()
	assert.Nil(t, <-first, "canceled caller stops waiting")

	close(prober.release)
	meta := <-second
	require.NotNil(t, meta)
	assert.Equal(t, "h264", meta.VideoCodec)

	// result of the shared flight is remembered
	assert.Equal(t, meta, cache.Get(context.Background(), path))
}

func TestCacheEvictsPreviousRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video.mkv")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	prober := &fakeProber{}
	cache := NewCache(prober)

	for i := 1; i <= 3; i++ {
		require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Duration(i)*time.Hour)))
		assert.NotNil(t, cache.Get(context.Background(), path))
	}

	assert.Equal(t, int32(3), prober.calls.Load())
	assert.Equal(t, 1, cache.Len())
}
