package render

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNavigator struct {
	calls   int
	results []*Result
	errs    []error
}

func (f *fakeNavigator) Navigate(ctx context.Context, url string, opts Options) (*Result, error) {
	i := f.calls
	f.calls++
	var res *Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type countingObserver struct {
	succeeded int
	timedOut  int
	failed    int
}

func (o *countingObserver) RenderSucceeded(time.Duration) { o.succeeded++ }
func (o *countingObserver) RenderTimedOut()               { o.timedOut++ }
func (o *countingObserver) RenderFailed()                 { o.failed++ }

func newTestRenderer(nav navigator, obs Observer) *Renderer {
	if obs == nil {
		obs = NopObserver{}
	}
	return &Renderer{nav: nav, observer: obs, logger: zap.NewNop()}
}

func TestRenderFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{
		results: []*Result{{FinalURL: "https://example.com/", Title: "Example", StatusCode: 200}},
		errs:    []error{nil},
	}
	obs := &countingObserver{}
	r := newTestRenderer(nav, obs)

	res, err := r.Render(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, "https://example.com", res.URL)
	require.Equal(t, "https://example.com/", res.FinalURL)
	require.Equal(t, 1, nav.calls)
	require.Equal(t, 1, obs.succeeded)
	require.Zero(t, obs.timedOut)
	require.Zero(t, obs.failed)
}

func TestRenderRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{
		results: []*Result{nil, {StatusCode: 200}},
		errs:    []error{errors.New("net::ERR_CONNECTION_RESET"), nil},
	}
	r := newTestRenderer(nav, nil)

	res, err := r.Render(context.Background(), "https://example.com", Options{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, 2, nav.calls)
}

func TestRenderExhaustsAttemptsAndTagsRenderError(t *testing.T) {
	t.Parallel()

	boom := errors.New("page crashed")
	nav := &fakeNavigator{errs: []error{boom, boom, boom}}
	obs := &countingObserver{}
	r := newTestRenderer(nav, obs)

	res, err := r.Render(context.Background(), "https://example.com", Options{MaxAttempts: 3})
	require.Error(t, err)
	require.False(t, res.Success)
	require.Equal(t, TagRenderError, res.ErrorTag)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, nav.calls)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, TagRenderError, rerr.Tag)
	require.ErrorIs(t, err, boom)

	require.Equal(t, 1, obs.failed, "failure metric must increment exactly once")
	require.Zero(t, obs.timedOut)
	require.Zero(t, obs.succeeded)
}

func TestRenderTimeoutTaggedAndCountedOnce(t *testing.T) {
	t.Parallel()

	deadline := context.DeadlineExceeded
	nav := &fakeNavigator{errs: []error{deadline, deadline, deadline}}
	obs := &countingObserver{}
	r := newTestRenderer(nav, obs)

	res, err := r.Render(context.Background(), "https://slow.example.com", Options{})
	require.Error(t, err)
	require.Equal(t, TagTimeout, res.ErrorTag)
	require.Equal(t, 3, nav.calls, "per-attempt timeouts are retried up to the attempt budget")

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, TagTimeout, rerr.Tag)

	require.Equal(t, 1, obs.timedOut, "timeout metric must increment exactly once")
	require.Zero(t, obs.failed)
}

func TestRenderRetriesConnectionAndDNSFailures(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}
	noHost := &net.DNSError{Err: "no such host", Name: "gone.example.com"}
	nav := &fakeNavigator{
		results: []*Result{nil, nil, {StatusCode: 200}},
		errs:    []error{refused, noHost, nil},
	}
	obs := &countingObserver{}
	r := newTestRenderer(nav, obs)

	res, err := r.Render(context.Background(), "https://gone.example.com", Options{MaxAttempts: 3})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, res.Attempts, "connection refused and DNS failures each get another attempt")
	require.Equal(t, 1, obs.succeeded)
}

func TestRenderStopsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	nav := &fakeNavigator{errs: []error{errors.New("navigate: context canceled")}}
	r := newTestRenderer(nav, nil)

	_, err := r.Render(ctx, "https://example.com", Options{})
	require.Error(t, err)
	require.Equal(t, 1, nav.calls, "caller cancellation must not be retried")
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	o := Options{}.withDefaults()
	require.Equal(t, WaitLoad, o.Wait)
	require.Equal(t, DefaultTimeout, o.Timeout)
	require.Equal(t, 3, o.MaxAttempts)
}
