package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)

	assert.Equal(t, DefaultNavigationTimeout, fetcher.cfg.NavigationTimeout)
	assert.EqualValues(t, DefaultViewportWidth, fetcher.cfg.ViewportWidth)
	assert.EqualValues(t, DefaultViewportHeight, fetcher.cfg.ViewportHeight)
	assert.Equal(t, 1, cap(fetcher.slot))
}

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxQPS: -1}, nil)
	assert.Error(t, err)
	_, err = NewChromedp(Config{ViewportWidth: -5}, nil)
	assert.Error(t, err)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{slot: make(chan struct{}, 1)}
	require.NoError(t, fetcher.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, fetcher.acquire(ctx), context.DeadlineExceeded)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected child context to be canceled")
	}
}

func TestResponseMetaStatus(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	assert.Equal(t, http.StatusOK, meta.statusOr(http.StatusOK))

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500},
	})
	assert.Equal(t, http.StatusOK, meta.statusOr(http.StatusOK))

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	assert.Equal(t, http.StatusNotFound, meta.statusOr(http.StatusOK))
}
