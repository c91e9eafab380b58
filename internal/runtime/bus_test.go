package runtime

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a, cancelA := b.Subscribe()
	defer cancelA()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(Event{Type: EventTranscript, Text: "hello"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Text != "hello" {
				t.Errorf("text = %q", e.Text)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusLaggedSubscriberDropsOldest(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: EventAudioLevel, RMS: float64(i)})
	}

	// The oldest events were dropped; the first one we read is not RMS 0.
	first := <-ch
	if first.RMS == 0 {
		t.Errorf("expected oldest events dropped, got RMS %v", first.RMS)
	}
	// Drain: the newest event must still be present.
	var last Event
	for {
		select {
		case e := <-ch:
			last = e
		default:
			if last.RMS != float64(subscriberBuffer+9) {
				t.Errorf("newest RMS = %v", last.RMS)
			}
			return
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: EventError, Detail: "x"})
}

func TestApprovalRespond(t *testing.T) {
	r := NewApprovalRequest("shell", nil)
	go r.Respond(true)
	d, err := r.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d != Approved {
		t.Errorf("decision = %v", d)
	}
}

func TestApprovalCancelIdempotent(t *testing.T) {
	r := NewApprovalRequest("shell", nil)
	r.Cancel()
	r.Cancel()
	if _, err := r.Wait(context.Background()); err != ErrApprovalCancelled {
		t.Errorf("err = %v", err)
	}
}

func TestApprovalConcurrentCancel(t *testing.T) {
	r := NewApprovalRequest("shell", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Cancel()
		}()
	}
	wg.Wait()
	if _, err := r.Wait(context.Background()); err != ErrApprovalCancelled {
		t.Errorf("err = %v", err)
	}
}

func TestApprovalContextExpiry(t *testing.T) {
	r := NewApprovalRequest("shell", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("err = %v", err)
	}
}
