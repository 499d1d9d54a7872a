package extractor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"
)

const (
	// maxCapturedHeaders bounds header capture per response so a hostile
	// server cannot balloon memory.
	maxCapturedHeaders = 100

	// captureStopTimeout bounds how long teardown waits for the event
	// listener goroutine to drain.
	captureStopTimeout = 5 * time.Second
)

// statusCapture records the main-document HTTP response observed while a
// page loads. Redirect chains overwrite earlier values; the last Document
// response wins.
type statusCapture struct {
	mu      sync.RWMutex
	status  int
	headers map[string]string
	url     string
}

func newStatusCapture() *statusCapture {
	return &statusCapture{
		status:  200, // assume success when CDP events are unavailable
		headers: make(map[string]string),
	}
}

func (c *statusCapture) record(status int, url string, headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.url = url
	c.headers = headers
}

// Status returns the last observed main-document status code.
func (c *statusCapture) Status() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Header returns a response header by case-insensitive name.
func (c *statusCapture) Header(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// URL returns the URL of the last main-document response, which differs
// from the requested URL after redirects.
func (c *statusCapture) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// boundedHeaders flattens CDP header values into plain strings, keeping at
// most max entries.
func boundedHeaders(in map[string]gson.JSON, max int) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if len(out) >= max {
			break
		}
		out[k] = v.Str()
	}
	return out
}

// captureDocumentResponses subscribes to Network.responseReceived on the
// page and keeps the statusCapture current for Document-type responses.
// The returned stop function must be called exactly once; it is safe to
// call even when setup partially failed.
func captureDocumentResponses(ctx context.Context, page *rod.Page) (*statusCapture, func()) {
	capture := newStatusCapture()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		// Capture is best-effort: without it the scrape still works, the
		// status just defaults to 200.
		log.Debug().Err(err).Msg("Network domain unavailable, status capture disabled")
		return capture, func() {}
	}

	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Debug().Interface("panic", r).Msg("Network capture listener stopped")
			}
		}()
		page.Context(listenCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
			if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
				return false
			}
			capture.record(int(e.Response.Status), e.Response.URL, boundedHeaders(e.Response.Headers, maxCapturedHeaders))
			return false
		})()
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(captureStopTimeout):
				log.Debug().Msg("Network capture listener did not drain in time")
			}
		})
	}
	return capture, stop
}
