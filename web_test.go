package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
)

// brokenWriter fails every write, standing in for a client that hung up
// mid-response.
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func (w *brokenWriter) WriteHeader(int) {}

// Write failures must never park a handler goroutine, no matter how many
// pile up.
func TestHandlersSurviveRepeatedWriteFailures(t *testing.T) {
	cfg := &Config{}

	handlers := map[string]httprouter.Handle{
		"healthz": serveHealthCheck(cfg),
		"robots":  serveRobots(cfg),
		"version": serveVersion(cfg),
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	for name, handle := range handlers {
		t.Run(name, func(t *testing.T) {
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 100; i++ {
					handle(&brokenWriter{}, req, nil)
				}
			}()

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("handler blocked on a failed write")
			}
		})
	}
}
