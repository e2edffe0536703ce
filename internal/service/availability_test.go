package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MimeLyc/sidecar-translator/internal/jobs"
	"github.com/MimeLyc/sidecar-translator/internal/translator"
	"github.com/MimeLyc/sidecar-translator/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_CheckPausesAndResumes(t *testing.T) {
	backend := &fakeBackend{}
	gate := jobs.NewGate()
	m := NewMonitor(backend, gate, time.Minute, time.Second, clock.NewFake(time.Now()))
	ctx := context.Background()

	assert.True(t, m.Check(ctx))
	assert.False(t, gate.Paused())

	backend.setAvailErr(errors.New("connection refused"))
	assert.False(t, m.Check(ctx))
	paused, reason, _ := gate.Status()
	assert.True(t, paused)
	assert.Contains(t, reason, "connection refused")

	backend.setAvailErr(nil)
	assert.True(t, m.Check(ctx))
	assert.False(t, gate.Paused())
}

func TestMonitor_KickTriggersImmediateCheck(t *testing.T) {
	backend := &fakeBackend{}
	gate := jobs.NewGate()
	// The interval never elapses on a fake clock without Advance.
	m := NewMonitor(backend, gate, time.Hour, time.Second, clock.NewFake(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	backend.setAvailErr(errors.New("503"))
	require.Eventually(t, func() bool {
		m.Kick()
		return gate.Paused()
	}, 2*time.Second, 10*time.Millisecond)

	backend.setAvailErr(nil)
	require.Eventually(t, func() bool {
		m.Kick()
		return !gate.Paused()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestMonitor_IntervalCheck(t *testing.T) {
	backend := &fakeBackend{}
	backend.setAvailErr(errors.New("down"))
	gate := jobs.NewGate()
	clk := clock.NewFake(time.Now())
	m := NewMonitor(backend, gate, 30*time.Second, time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, gate.Paused, 2*time.Second, 10*time.Millisecond)

	backend.setAvailErr(nil)
	require.Eventually(t, func() bool { return clk.Pending() > 0 }, 2*time.Second, 10*time.Millisecond)
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return !gate.Paused() }, 2*time.Second, 10*time.Millisecond)
}

func TestMonitor_BusyBackendKeepsGateOpen(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/languages", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"code":"en","name":"English","targets":["nl"]}]`)
	})
	mux.HandleFunc("/translate_file", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		io.WriteString(w, "ok")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	lt, err := translator.NewLibreTranslate(translator.Config{BaseURL: srv.URL, Timeout: 5 * time.Second, MaxConcurrent: 1})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = lt.Translate(context.Background(), "Hello", "en", "nl")
	}()
	<-started

	gate := jobs.NewGate()
	m := NewMonitor(lt, gate, time.Minute, 200*time.Millisecond, nil)
	assert.True(t, m.Check(context.Background()))
	assert.False(t, gate.Paused())

	close(release)
	<-done
}
