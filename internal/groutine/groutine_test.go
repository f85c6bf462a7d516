package groutine

import (
	"context"
	"runtime/pprof"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_LabelsGoroutine(t *testing.T) {
	type seen struct {
		name  string
		label string
	}
	got := make(chan seen, 1)

	Go(nil, "scanner", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		got <- seen{name: GetName(ctx), label: label}
	})

	select {
	case s := <-got:
		assert.Equal(t, "scanner", s.name)
		assert.Equal(t, "scanner", s.label)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestStart_ClosesDoneAfterReturn(t *testing.T) {
	release := make(chan struct{})
	done := Start(context.Background(), "actor", func(ctx context.Context) {
		<-release
	})

	select {
	case <-done:
		t.Fatal("done closed before fn returned")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "done not closed")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck
	assert.Equal(t, "", GetName(context.Background()))
}
