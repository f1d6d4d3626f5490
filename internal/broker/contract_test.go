package broker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/marketbus/internal/codec"
	"github.com/rickgao/marketbus/internal/event"
)

// backendUnderTest builds each backend the same way the orchestrator does.
// The nats case needs a live server and is skipped unless NATS_URL is set.
func backendsUnderTest(t *testing.T) map[string]func(t *testing.T) Broker {
	t.Helper()
	c, err := codec.New("json")
	if err != nil {
		t.Fatalf("create codec: %v", err)
	}

	return map[string]func(t *testing.T) Broker{
		"memory": func(t *testing.T) Broker {
			return NewMemory(slog.Default())
		},
		"nats": func(t *testing.T) Broker {
			url := os.Getenv("NATS_URL")
			if url == "" {
				t.Skip("NATS_URL not set")
			}
			return NewNATS(url, "contract-test", c, slog.Default())
		},
	}
}

func TestBrokerContract(t *testing.T) {
	for name, build := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			b := build(t)
			ctx := context.Background()
			if err := b.Connect(ctx); err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			defer b.Disconnect()

			var mu sync.Mutex
			var got []*event.Candle
			err := b.Subscribe(ctx, event.ChannelCandle, "contract", func(_ string, ev event.Event) {
				mu.Lock()
				got = append(got, ev.(*event.Candle))
				mu.Unlock()
			})
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}

			want := &event.Candle{Symbol: "AAPL", TradeDate: "2026-08-21", Close: 232.5}
			if err := b.Publish(ctx, event.ChannelCandle, want); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			// An event on another channel must not be delivered here.
			if err := b.Publish(ctx, event.ChannelStatus, &event.Status{PublisherID: "x"}); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}

			deadline := time.Now().Add(2 * time.Second)
			for {
				mu.Lock()
				n := len(got)
				mu.Unlock()
				if n >= 1 {
					break
				}
				if time.Now().After(deadline) {
					t.Fatal("event never delivered")
				}
				time.Sleep(5 * time.Millisecond)
			}

			mu.Lock()
			first := append([]*event.Candle(nil), got...)
			mu.Unlock()
			if len(first) != 1 {
				t.Fatalf("delivered %d events, want 1 (channel isolation)", len(first))
			}
			if first[0].Symbol != want.Symbol || first[0].Close != want.Close {
				t.Errorf("delivered %+v, want %+v", first[0], want)
			}

			if err := b.Unsubscribe(event.ChannelCandle, "contract"); err != nil {
				t.Fatalf("Unsubscribe failed: %v", err)
			}
			if err := b.Publish(ctx, event.ChannelCandle, want); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			n := len(got)
			mu.Unlock()
			if n != 1 {
				t.Errorf("delivered %d events after Unsubscribe, want still 1", n)
			}
		})
	}
}
