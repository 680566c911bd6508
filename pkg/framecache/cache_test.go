package framecache

import (
	"sync"
	"testing"

	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/syncobj"
)

func TestDeltaTimeComputedOncePerFrame(t *testing.T) {
	c := New()

	calls := 0
	compute := func() float64 {
		calls++
		return 0.016 * float64(calls)
	}

	const k = 10
	first := c.DeltaTime(compute)
	for i := 1; i < k; i++ {
		if got := c.DeltaTime(compute); got != first {
			t.Fatalf("read %d = %v, want %v", i, got, first)
		}
	}
	if calls != 1 || c.Stats().DeltaTime != 1 {
		t.Errorf("compute ran %d times (stats %d), want 1", calls, c.Stats().DeltaTime)
	}
	if c.Stats().Hits != k-1 {
		t.Errorf("Hits = %d, want %d", c.Stats().Hits, k-1)
	}

	c.Clear()
	if got := c.DeltaTime(compute); got == first {
		t.Error("value after Clear should be recomputed")
	}
	if c.Stats().DeltaTime != 2 {
		t.Errorf("DeltaTime computes = %d, want 2", c.Stats().DeltaTime)
	}
}

func TestConcurrentReadersShareOneCompute(t *testing.T) {
	c := New()

	var mu sync.Mutex
	calls := 0
	compute := func() float64 {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return 0.033
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v := c.DeltaTime(compute); v != 0.033 {
				t.Errorf("got %v", v)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("compute ran %d times, want 1", calls)
	}
}

func TestSyncDataIsCopiedOnStore(t *testing.T) {
	c := New()

	source := map[string]string{"obj": "v1"}
	got := c.SyncData(syncobj.GroupTick, func() map[string]string { return source })

	// Mutating the primary's state after the first read must not change
	// what later readers of the same frame observe.
	source["obj"] = "v2"
	got["obj"] = "tampered"

	again := c.SyncData(syncobj.GroupTick, func() map[string]string {
		t.Fatal("should not recompute")
		return nil
	})
	if again["obj"] != "v1" {
		t.Errorf("cached value changed to %q", again["obj"])
	}
}

func TestSyncDataCellsAreIndependent(t *testing.T) {
	c := New()

	for _, g := range syncobj.Groups {
		c.SyncData(g, func() map[string]string { return map[string]string{"group": g.String()} })
	}
	st := c.Stats()
	if st.SyncData != [3]uint64{1, 1, 1} {
		t.Errorf("SyncData computes = %v", st.SyncData)
	}
	if v := c.SyncData(syncobj.GroupPostTick, nil); v["group"] != "PostTick" {
		t.Errorf("PostTick cell = %v", v)
	}
	if v := c.SyncData(syncobj.Group(7), nil); len(v) != 0 {
		t.Errorf("invalid group returned %v", v)
	}
}

func TestEventsDataSnapshot(t *testing.T) {
	c := New()

	ev := events.BinaryEvent{EventID: 1, Payload: []byte{1}}
	data := c.EventsData(func() EventsData {
		return EventsData{Binary: []events.BinaryEvent{ev}}
	})
	data.Binary[0].Payload[0] = 9

	cached := c.EventsData(nil)
	if cached.Binary[0].Payload[0] != 1 {
		t.Error("mutating a served snapshot changed the cache")
	}
	if c.Stats().EventsData != 1 {
		t.Errorf("EventsData computes = %d", c.Stats().EventsData)
	}
}

func TestClearInvalidatesEveryCell(t *testing.T) {
	c := New()
	empty := func() map[string]string { return nil }

	c.DeltaTime(func() float64 { return 1 })
	c.Timecode(func() TimecodeValue { return TimecodeValue{} })
	c.InputData(empty)
	c.NativeInputData(empty)
	c.EventsData(func() EventsData { return EventsData{} })
	c.SyncData(syncobj.GroupPreTick, empty)
	before := c.Stats().Computes()

	c.Clear()

	c.DeltaTime(func() float64 { return 1 })
	c.Timecode(func() TimecodeValue { return TimecodeValue{} })
	c.InputData(empty)
	c.NativeInputData(empty)
	c.EventsData(func() EventsData { return EventsData{} })
	c.SyncData(syncobj.GroupPreTick, empty)

	if after := c.Stats().Computes(); after != 2*before {
		t.Errorf("computes after Clear = %d, want %d", after, 2*before)
	}
}

func TestBeginFrameDetectsMissingClear(t *testing.T) {
	c := New()

	if err := c.BeginFrame(1); err != nil {
		t.Fatalf("first BeginFrame: %v", err)
	}
	c.DeltaTime(func() float64 { return 1 })
	c.Clear()
	if err := c.BeginFrame(2); err != nil {
		t.Fatalf("BeginFrame after Clear: %v", err)
	}

	c.DeltaTime(func() float64 { return 2 })
	if err := c.BeginFrame(3); err != ErrStaleFrame {
		t.Fatalf("BeginFrame without Clear = %v, want ErrStaleFrame", err)
	}
	// The stale value must not leak into frame 3
	if v := c.DeltaTime(func() float64 { return 3 }); v != 3 {
		t.Errorf("DeltaTime in frame 3 = %v, want 3", v)
	}
	if c.Frame() != 3 {
		t.Errorf("Frame() = %d", c.Frame())
	}
}

func TestTimecodeFormatting(t *testing.T) {
	tests := []struct {
		tc   Timecode
		want string
	}{
		{Timecode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4}, "01:02:03:04"},
		{Timecode{Hours: 10, Minutes: 59, Seconds: 59, Frames: 29, DropFrame: true}, "10:59:59;29"},
	}
	for _, tt := range tests {
		if got := tt.tc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		back, err := ParseTimecode(tt.want)
		if err != nil || back != tt.tc {
			t.Errorf("ParseTimecode(%q) = %+v, %v", tt.want, back, err)
		}
	}

	for _, bad := range []string{"", "1:2:3:4", "aa:bb:cc:dd", "01:02:03-04"} {
		if _, err := ParseTimecode(bad); err == nil {
			t.Errorf("ParseTimecode(%q) should fail", bad)
		}
	}
}

func TestFrameRate(t *testing.T) {
	r, err := ParseFrameRate("30000/1001")
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != "30000/1001" {
		t.Errorf("String() = %q", r.String())
	}
	if fps := r.FPS(); fps < 29.97 || fps > 29.98 {
		t.Errorf("FPS() = %v", fps)
	}
	for _, bad := range []string{"30", "0/1", "30/0", "x/y"} {
		if _, err := ParseFrameRate(bad); err == nil {
			t.Errorf("ParseFrameRate(%q) should fail", bad)
		}
	}
}
