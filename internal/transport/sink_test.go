package transport

import (
	"testing"
	"time"

	"github.com/ganot/desksync/internal/domain/classify"
)

type recordingSink struct {
	pushes chan classify.PushEvent
	states chan ConnState
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		pushes: make(chan classify.PushEvent, 16),
		states: make(chan ConnState, 16),
	}
}

func (s *recordingSink) Push(ev classify.PushEvent) { s.pushes <- ev }
func (s *recordingSink) Connection(st ConnState)    { s.states <- st }

func (s *recordingSink) waitPush(t *testing.T) classify.PushEvent {
	t.Helper()
	select {
	case ev := <-s.pushes:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no push event")
		return classify.PushEvent{}
	}
}

func (s *recordingSink) waitState(t *testing.T, want ConnState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-s.states:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached state %s", want)
		}
	}
}
