package events

import (
	"reflect"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) OnClusterEventJSON(ev JSONEvent) {
	r.mu.Lock()
	r.names = append(r.names, ev.Name)
	r.mu.Unlock()
}

func TestImportCallsListenersInRegistrationOrder(t *testing.T) {
	r := NewReplicator(logging.NewNopLogger())

	var order []string
	r.AddJSONListener(JSONListenerFunc(func(ev JSONEvent) { order = append(order, "first:"+ev.Name) }))
	r.AddJSONListener(JSONListenerFunc(func(ev JSONEvent) { order = append(order, "second:"+ev.Name) }))

	r.ImportEventsData([]JSONEvent{{Name: "a"}, {Name: "b"}}, nil)

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("delivery order = %v, want %v", order, want)
	}
}

func TestInvalidatedListenerIsSkippedAndPruned(t *testing.T) {
	r := NewReplicator(nil)

	gone := &recorder{}
	kept := &recorder{}
	reg := r.AddJSONListener(gone)
	r.AddJSONListener(kept)

	reg.Invalidate()
	r.ImportEventsData([]JSONEvent{{Name: "a"}}, nil)

	if len(gone.names) != 0 {
		t.Errorf("invalidated listener received %v", gone.names)
	}
	if len(kept.names) != 1 {
		t.Errorf("valid listener received %v", kept.names)
	}

	r.listenersMu.Lock()
	n := len(r.jsonListeners)
	r.listenersMu.Unlock()
	if n != 1 {
		t.Errorf("listener list has %d entries after prune, want 1", n)
	}
}

func TestListenerAddedDuringDeliverySeesNextBatch(t *testing.T) {
	r := NewReplicator(nil)
	late := &recorder{}

	added := false
	r.AddJSONListener(JSONListenerFunc(func(JSONEvent) {
		if !added {
			added = true
			r.AddJSONListener(late)
		}
	}))

	r.ImportEventsData([]JSONEvent{{Name: "a"}}, nil)
	if len(late.names) != 0 {
		t.Errorf("late listener saw the current batch: %v", late.names)
	}

	r.ImportEventsData([]JSONEvent{{Name: "b"}}, nil)
	if !reflect.DeepEqual(late.names, []string{"b"}) {
		t.Errorf("late listener got %v, want [b]", late.names)
	}
}

func TestBinaryListeners(t *testing.T) {
	r := NewReplicator(nil)

	var got []int32
	r.AddBinaryListener(BinaryListenerFunc(func(ev BinaryEvent) { got = append(got, ev.EventID) }))

	r.AddBinary(BinaryEvent{EventID: 5, Payload: []byte("x")})
	r.Rollover()
	_, bin := r.ExportEventsData()
	r.ImportEventsData(nil, bin)

	if !reflect.DeepEqual(got, []int32{5}) {
		t.Errorf("binary listener got %v", got)
	}
}

func TestQuitEvent(t *testing.T) {
	r := NewReplicator(nil)

	quits := 0
	r.OnQuit(func() { quits++ })

	notQuit := QuitEvent()
	notQuit.IsSystemEvent = false

	r.AddJSON(QuitEvent())
	r.AddJSON(QuitEvent())
	r.AddJSON(notQuit)
	r.Rollover()

	js, _ := r.ExportEventsData()
	if len(js) != 2 {
		t.Fatalf("expected the quit event once plus the user lookalike, got %v", js)
	}
	r.ImportEventsData(js, nil)

	if quits != 1 {
		t.Errorf("quit handler ran %d times, want 1", quits)
	}
}

func TestReplicatorPending(t *testing.T) {
	r := NewReplicator(nil)
	r.AddJSON(JSONEvent{Name: "a"})
	r.AddBinary(BinaryEvent{EventID: 1})
	r.AddBinary(BinaryEvent{EventID: 2})

	js, bin := r.Pending()
	if js != 1 || bin != 2 {
		t.Errorf("Pending() = %d, %d", js, bin)
	}

	r.Rollover()
	r.ClearSnapshot()
	j, b := r.ExportEventsData()
	if len(j) != 0 || len(b) != 0 {
		t.Error("ClearSnapshot should empty both pools")
	}
}
