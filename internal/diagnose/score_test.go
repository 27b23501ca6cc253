package diagnose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorify/monitorify/internal/render"
)

func TestTimingScorerGradesFastPage(t *testing.T) {
	t.Parallel()

	stub := &render.Stub{
		InspectFn: func(_ context.Context, _ string) (render.PageInfo, error) {
			return render.PageInfo{Timing: render.Timing{
				TTFBMs:             80,
				DOMContentLoadedMs: 400,
				LoadMs:             900,
			}}, nil
		},
	}
	metrics, err := NewTimingScorer(stub).Score(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, metrics.Score)
	assert.Equal(t, 100, *metrics.Score)
	require.NotNil(t, metrics.LCPMs)
	assert.Equal(t, 900.0, *metrics.LCPMs)
	require.NotNil(t, metrics.CLS)
	assert.Equal(t, 0.0, *metrics.CLS)
}

func TestTimingScorerGradesSlowPage(t *testing.T) {
	t.Parallel()

	stub := &render.Stub{
		InspectFn: func(_ context.Context, _ string) (render.PageInfo, error) {
			return render.PageInfo{Timing: render.Timing{
				TTFBMs:             1500,
				DOMContentLoadedMs: 5000,
				LoadMs:             12000,
			}}, nil
		},
	}
	metrics, err := NewTimingScorer(stub).Score(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, metrics.Score)
	assert.Equal(t, 0, *metrics.Score)
}

func TestCachedScorerHonorsTTL(t *testing.T) {
	t.Parallel()

	calls := 0
	stub := &render.Stub{
		InspectFn: func(_ context.Context, _ string) (render.PageInfo, error) {
			calls++
			return render.PageInfo{}, nil
		},
	}
	cached := NewCached(NewTimingScorer(stub), 5*time.Minute)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	cached.SetNow(func() time.Time { return now })
	ctx := context.Background()

	_, err := cached.Score(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = cached.Score(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A different URL is measured separately.
	_, err = cached.Score(ctx, "https://other.example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	// Past the TTL the entry is re-measured.
	now = now.Add(5*time.Minute + time.Second)
	_, err = cached.Score(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCachedScorerDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	fail := true
	stub := &render.Stub{
		InspectFn: func(_ context.Context, _ string) (render.PageInfo, error) {
			if fail {
				return render.PageInfo{}, errors.New("render crashed")
			}
			return render.PageInfo{}, nil
		},
	}
	cached := NewCached(NewTimingScorer(stub), time.Minute)
	ctx := context.Background()

	_, err := cached.Score(ctx, "https://example.com")
	assert.Error(t, err)

	fail = false
	_, err = cached.Score(ctx, "https://example.com")
	assert.NoError(t, err)
}
