package bus

import (
	"context"
	"testing"
	"time"

	"synthfeed/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("hub")
	out2 := fo.Subscribe("redis")

	input := make(chan model.TickEvent, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.TickEvent{Symbol: "XAU/USD", Seq: 7, Candle: model.Candle{Time: "03:00", Open: 2640}}

	for i, out := range []<-chan model.TickEvent{out1, out2} {
		select {
		case ev := <-out:
			if ev.Seq != 7 || ev.Candle.Time != "03:00" {
				t.Errorf("out%d: unexpected event %+v", i+1, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for event", i+1)
		}
	}
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New(1)
	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	slow := fo.Subscribe("slow")
	fo.Publish(model.TickEvent{Seq: 1})
	fo.Publish(model.TickEvent{Seq: 2})

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Fatalf("expected one drop for slow, got %v", dropped)
	}
	if ev := <-slow; ev.Seq != 1 {
		t.Fatalf("expected seq 1 retained, got %d", ev.Seq)
	}

	stats := fo.ChannelStats()
	if len(stats) != 1 || stats[0].Name != "slow" || stats[0].Cap != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New(4)
	out := fo.Subscribe("hub")

	input := make(chan model.TickEvent)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if _, ok := <-out; ok {
		t.Fatal("expected output channel to be closed")
	}
	if _, ok := <-fo.Subscribe("late"); ok {
		t.Fatal("late subscriber should get a closed channel")
	}
}
