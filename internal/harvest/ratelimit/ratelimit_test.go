package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadRanges(t *testing.T) {
	_, err := New(0, time.Second)
	require.Error(t, err)

	_, err = New(time.Second, time.Millisecond)
	require.Error(t, err)
}

func TestWaitEnforcesMinimumInterval(t *testing.T) {
	// no jitter, the spacing should be the interval itself
	l, err := New(time.Millisecond*50, time.Millisecond*50)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// first request passes immediately, the next two wait a full interval
	require.GreaterOrEqual(t, time.Since(start), time.Millisecond*100)
}

func TestWaitAddsBoundedJitter(t *testing.T) {
	l, err := New(time.Millisecond*10, time.Millisecond*30)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, time.Millisecond*20)
	// 3 waits of at most 30ms each, plus scheduling slack
	require.Less(t, elapsed, time.Millisecond*300)
}

func TestWaitRespectsCancelledContext(t *testing.T) {
	l, err := New(time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	// consume the initial burst allowance
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*10)
	defer cancel()
	err = l.Wait(ctx)
	require.Error(t, err)
}
