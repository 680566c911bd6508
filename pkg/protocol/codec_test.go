package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
)

func TestWaitEncoding(t *testing.T) {
	times := barrier.WaitTimes{ThreadWait: 1500 * time.Microsecond, BarrierWait: 900 * time.Microsecond}
	result := EncodeWait(barrier.ResultTimeout, times)

	if result[ArgThreadTime] != "1500" || result[ArgBarrierTime] != "900" {
		t.Errorf("times encoded as %v", result)
	}

	res, got, err := DecodeWait(result)
	if err != nil || res != barrier.ResultTimeout || got != times {
		t.Errorf("DecodeWait = %v, %+v, %v", res, got, err)
	}

	if _, _, err := DecodeWait(map[string]string{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty wait result error = %v", err)
	}

	if _, ok := DecodeLaggards(result); ok {
		t.Error("laggards decoded from a result without them")
	}
	EncodeLaggards(result, nil)
	if ids, ok := DecodeLaggards(result); !ok || len(ids) != 0 {
		t.Errorf("empty laggards = %v, %v", ids, ok)
	}
	EncodeLaggards(result, []string{"node_0", "node_2"})
	if ids, _ := DecodeLaggards(result); len(ids) != 2 || ids[1] != "node_2" {
		t.Errorf("DecodeLaggards = %v", ids)
	}
}

func TestDeltaTimeIsExact(t *testing.T) {
	for _, v := range []float64{0, 1.0 / 60, 0.016666666666666666, 1e-9, 123.456} {
		got, err := DecodeDeltaTime(EncodeDeltaTime(v))
		if err != nil || got != v {
			t.Errorf("round trip of %v = %v, %v", v, got, err)
		}
	}
	if _, err := DecodeDeltaTime(nil); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("missing delta error = %v", err)
	}
}

func TestTimecodeEncoding(t *testing.T) {
	v := framecache.TimecodeValue{
		Timecode:  framecache.Timecode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4},
		FrameRate: framecache.FrameRate{Numerator: 60, Denominator: 1},
	}
	got, err := DecodeTimecode(EncodeTimecode(v))
	if err != nil || got != v {
		t.Errorf("DecodeTimecode = %+v, %v", got, err)
	}
}

func TestBinaryEventIsCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("lockstep"), 256)
	ev := events.BinaryEvent{EventID: -4, IsSystemEvent: true, DiscardOnRepeat: true, Payload: payload}

	req := EncodeBinaryEvent(ev)
	if len(req.Payload) >= len(payload) {
		t.Errorf("payload not compressed: %d >= %d", len(req.Payload), len(payload))
	}

	got, err := DecodeBinaryEvent(req)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID != -4 || !got.IsSystemEvent || !got.DiscardOnRepeat || !bytes.Equal(got.Payload, payload) {
		t.Errorf("decoded event differs: %+v", got)
	}
}

func TestDecodeBinaryEventErrors(t *testing.T) {
	req := NewRequest(ReqEmitClusterEventBinary, nil)
	if _, err := DecodeBinaryEvent(req); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("missing id error = %v", err)
	}

	req = EncodeBinaryEvent(events.BinaryEvent{EventID: 1, Payload: []byte("x")})
	req.Payload = []byte{0xff, 0xff, 0xff}
	if _, err := DecodeBinaryEvent(req); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("corrupt payload error = %v", err)
	}

	req = EncodeBinaryEvent(events.BinaryEvent{EventID: 1})
	req.Args[ArgCompression] = "lz4"
	if _, err := DecodeBinaryEvent(req); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown compression error = %v", err)
	}
}

func TestEventsDataEncoding(t *testing.T) {
	data := framecache.EventsData{
		JSON: []events.JSONEvent{
			{Category: "c", Type: "t", Name: "n", Parameters: map[string]string{"k": "v"}},
		},
		Binary: []events.BinaryEvent{
			{EventID: 3, Payload: []byte{1, 2, 3}},
		},
	}

	resp, err := EncodeEventsData(&Request{ID: 9, Name: ReqGetEventsData}, data)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != 9 {
		t.Errorf("response id = %d", resp.ID)
	}

	got, err := DecodeEventsData(resp)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.JSON) != 1 || got.JSON[0].Parameters["k"] != "v" {
		t.Errorf("json events = %+v", got.JSON)
	}
	if len(got.Binary) != 1 || !bytes.Equal(got.Binary[0].Payload, []byte{1, 2, 3}) {
		t.Errorf("binary events = %+v", got.Binary)
	}

	empty, err := EncodeEventsData(&Request{Name: ReqGetEventsData}, framecache.EventsData{})
	if err != nil {
		t.Fatal(err)
	}
	got, err = DecodeEventsData(empty)
	if err != nil || len(got.JSON) != 0 || len(got.Binary) != 0 {
		t.Errorf("empty snapshot decoded as %+v, %v", got, err)
	}
}

func TestMessageEnvelope(t *testing.T) {
	req := NewRequest(ReqGetSyncData, map[string]string{ArgSyncGroup: "Tick"})
	msg, err := NewMessage(MsgRequest, "node_2", req)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	back, err := UnmarshalMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	var got Request
	if err := back.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if back.Type != MsgRequest || back.From != "node_2" || got.Args[ArgSyncGroup] != "Tick" {
		t.Errorf("envelope = %+v, request = %+v", back, got)
	}
}

func TestGateNames(t *testing.T) {
	for _, g := range Gates {
		back, ok := GateFromRequest(g.RequestName())
		if !ok || back != g {
			t.Errorf("GateFromRequest(%q) = %v, %v", g.RequestName(), back, ok)
		}
	}
	if _, ok := GateFromRequest(ReqGetDeltaTime); ok {
		t.Error("GetDeltaTime is not a gate")
	}
	want := []string{ReqWaitForGameStart, ReqWaitForFrameStart, ReqWaitForFrameEnd, ReqWaitForSwapSync}
	for i, g := range Gates {
		if g.RequestName() != want[i] {
			t.Errorf("%v.RequestName() = %q, want %q", g, g.RequestName(), want[i])
		}
	}
}

func TestRemoteErrorIs(t *testing.T) {
	resp := (&Request{Name: ReqHello}).Fail(CodeUnknownNode, "node %q", "x")
	err := resp.Err()
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("errors.Is(%v, ErrUnknownNode) = false", err)
	}
	if errors.Is(err, ErrInternal) {
		t.Error("RemoteError matched the wrong sentinel")
	}
	if CodeOf(errors.Join(errors.New("ctx"), ErrNotPrimary)) != CodeNotPrimary {
		t.Error("CodeOf should see wrapped sentinels")
	}
	if CodeOf(errors.New("boom")) != CodeInternal {
		t.Error("unknown errors map to Internal")
	}
}
