package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/sensor-simulator/sensor"
)

func reading(name string, seq uint64) sensor.Reading {
	return sensor.Reading{Sensor: name, Seq: seq}
}

func TestSubscribeDropNew(t *testing.T) {
	b := New()
	defer b.Close()

	ch := make(chan sensor.Reading, 2)
	if err := b.Subscribe("s1", ch, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Subscribe("s1", ch, nil); !errors.Is(err, ErrSubscriberExists) {
		t.Fatalf("duplicate Subscribe err = %v", err)
	}
	if err := b.Subscribe("nil", nil, nil); !errors.Is(err, ErrNilChannel) {
		t.Fatalf("nil channel err = %v", err)
	}

	for i := range 5 {
		b.Publish(reading("cam", uint64(i+1)))
	}

	st := b.Stats()
	if st.TotalPublished != 5 || st.TotalSent != 2 || st.TotalDropped != 3 {
		t.Fatalf("stats = %+v", st)
	}
	// The oldest readings are kept; new ones were dropped.
	if r := <-ch; r.Seq != 1 {
		t.Fatalf("first seq = %d, want 1", r.Seq)
	}
	if r := <-ch; r.Seq != 2 {
		t.Fatalf("second seq = %d, want 2", r.Seq)
	}
}

func TestSubscribeLatestDropOld(t *testing.T) {
	b := New()
	rc, err := b.SubscribeLatest("latest", nil)
	if err != nil {
		t.Fatalf("SubscribeLatest: %v", err)
	}

	for i := range 3 {
		b.Publish(reading("imu", uint64(i+1)))
	}
	r, ok := rc.TryReceive()
	if !ok || r.Seq != 3 {
		t.Fatalf("TryReceive = %+v, %v; want seq 3", r, ok)
	}
	if _, ok := rc.TryReceive(); ok {
		t.Fatalf("receiver should be empty after take")
	}
	if rc.Overwritten() != 2 {
		t.Fatalf("Overwritten = %d, want 2", rc.Overwritten())
	}

	st := b.Stats().Subscribers["latest"]
	if st.Sent != 1 || st.Dropped != 2 {
		t.Fatalf("subscriber stats = %+v", st)
	}

	b.Close()
	if _, err := rc.Receive(context.Background()); !errors.Is(err, ErrReceiverClosed) {
		t.Fatalf("Receive after close err = %v", err)
	}
}

func TestReceiveWaitsForPublish(t *testing.T) {
	b := New()
	defer b.Close()
	rc, _ := b.SubscribeLatest("w", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var got sensor.Reading
	var gotErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		got, gotErr = rc.Receive(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(reading("lidar", 7))
	wg.Wait()
	if gotErr != nil || got.Seq != 7 {
		t.Fatalf("Receive = %+v, %v", got, gotErr)
	}
}

func TestFilterAndUnsubscribe(t *testing.T) {
	b := New()
	ch := make(chan sensor.Reading, 4)
	_ = b.Subscribe("cams", ch, SensorFilter("cam1"))

	b.Publish(reading("cam1", 1))
	b.Publish(reading("cam2", 1))
	if len(ch) != 1 {
		t.Fatalf("filtered channel len = %d, want 1", len(ch))
	}

	if err := b.Unsubscribe("cams"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := b.Unsubscribe("cams"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Fatalf("second Unsubscribe err = %v", err)
	}

	_ = b.Close()
	_ = b.Close()
	b.Publish(reading("cam1", 2))
	if err := b.Subscribe("late", ch, nil); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Subscribe after close err = %v", err)
	}
}
