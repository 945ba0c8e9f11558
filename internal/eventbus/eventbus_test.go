package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }

type pong struct{}

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	var got []int
	unsubA := SubscribeTo(b, func(_ context.Context, e ping) { got = append(got, e.n) })
	unsubB := SubscribeTo(b, func(_ context.Context, e ping) { got = append(got, e.n*10) })

	PublishTo(b, context.Background(), ping{n: 1})
	PublishTo(b, context.Background(), pong{})
	require.Equal(t, []int{1, 10}, got)

	// Handlers from the same literal are told apart.
	unsubA()
	PublishTo(b, context.Background(), ping{n: 2})
	require.Equal(t, []int{1, 10, 20}, got)

	unsubB()
	unsubB()
	PublishTo(b, context.Background(), ping{n: 3})
	require.Equal(t, []int{1, 10, 20}, got)
}

func TestGlobalBus(t *testing.T) {
	t.Cleanup(func() { Use(nil) })

	Use(nil)
	require.Nil(t, Global())
	unsub := Subscribe(func(context.Context, ping) { t.Fatal("no bus, no delivery") })
	unsub()
	Publish(context.Background(), ping{})

	b := New()
	Use(b)
	require.Same(t, b, Global())
	var n int
	defer Subscribe(func(_ context.Context, e ping) { n += e.n })()
	Publish(context.Background(), ping{n: 2})
	// A nil bus falls back to the global one.
	PublishTo(nil, context.Background(), ping{n: 3})
	require.Equal(t, 5, n)
}
