package resultstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/flexinfer/datapipe/pkg/types"
)

func marshalEvent(t *testing.T, evt *types.Event) []byte {
	t.Helper()
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return raw
}

func TestDeliverPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("forwards a node event and continues", func(t *testing.T) {
		ch := make(chan *types.Event, 1)
		payload := marshalEvent(t, &types.Event{
			ID:    "1",
			RunID: "run-1",
			Type:  types.EventTypeNodeStatus,
		})

		if done := deliverPayload(ctx, ch, payload); done {
			t.Error("expected subscription to continue")
		}
		select {
		case evt := <-ch:
			if evt.ID != "1" || evt.Type != types.EventTypeNodeStatus {
				t.Errorf("unexpected event: %+v", evt)
			}
		default:
			t.Error("expected event on the channel")
		}
	})

	t.Run("forwards stream_end before finishing", func(t *testing.T) {
		ch := make(chan *types.Event, 1)
		payload := marshalEvent(t, &types.Event{
			ID:    "final",
			RunID: "run-1",
			Type:  types.EventTypeStreamEnd,
		})

		if done := deliverPayload(ctx, ch, payload); !done {
			t.Error("expected subscription to finish on stream_end")
		}
		select {
		case evt := <-ch:
			if evt.Type != types.EventTypeStreamEnd {
				t.Errorf("expected stream_end event, got %q", evt.Type)
			}
		default:
			t.Error("expected stream_end to be delivered, not dropped")
		}
	})

	t.Run("skips undecodable payloads", func(t *testing.T) {
		ch := make(chan *types.Event, 1)
		if done := deliverPayload(ctx, ch, []byte("not json")); done {
			t.Error("expected subscription to continue")
		}
		select {
		case evt := <-ch:
			t.Errorf("expected nothing on the channel, got %+v", evt)
		default:
		}
	})

	t.Run("cancelled context finishes a blocked send", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		ch := make(chan *types.Event) // unbuffered, nobody receiving
		payload := marshalEvent(t, &types.Event{ID: "1", Type: types.EventTypeLog})

		doneCh := make(chan bool, 1)
		go func() {
			doneCh <- deliverPayload(cancelled, ch, payload)
		}()

		select {
		case done := <-doneCh:
			if !done {
				t.Error("expected delivery to finish on context cancellation")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery to unblock")
		}
	})
}
