package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/barrier"
	"github.com/dd0wney/cluso-lockstep/pkg/events"
	"github.com/dd0wney/cluso-lockstep/pkg/framecache"
	"github.com/golang/snappy"
)

// compressionSnappy marks payloads compressed with snappy block format
const compressionSnappy = "snappy"

// EncodeWait builds the result map of a wait response
func EncodeWait(res barrier.Result, times barrier.WaitTimes) map[string]string {
	return map[string]string{
		ArgWaitResult:  res.String(),
		ArgThreadTime:  strconv.FormatInt(times.ThreadWait.Microseconds(), 10),
		ArgBarrierTime: strconv.FormatInt(times.BarrierWait.Microseconds(), 10),
	}
}

// DecodeWait parses a wait response
func DecodeWait(result map[string]string) (barrier.Result, barrier.WaitTimes, error) {
	res, err := barrier.ParseResult(result[ArgWaitResult])
	if err != nil {
		return barrier.ResultRejected, barrier.WaitTimes{}, fmt.Errorf("%w: %s", ErrInvalidArgument, ArgWaitResult)
	}
	thread, err1 := parseMicros(result[ArgThreadTime])
	blocked, err2 := parseMicros(result[ArgBarrierTime])
	if err1 != nil || err2 != nil {
		return res, barrier.WaitTimes{}, fmt.Errorf("%w: wait times", ErrInvalidArgument)
	}
	return res, barrier.WaitTimes{ThreadWait: thread, BarrierWait: blocked}, nil
}

// EncodeLaggards adds the nodes missing from a timed-out generation to a
// wait response. An empty list is sent as an empty value, which is not the
// same as the key being absent.
func EncodeLaggards(result map[string]string, ids []string) {
	result[ArgLaggards] = strings.Join(ids, ",")
}

// DecodeLaggards returns the laggards of a wait response and whether the
// primary reported them at all
func DecodeLaggards(result map[string]string) ([]string, bool) {
	v, ok := result[ArgLaggards]
	if !ok {
		return nil, false
	}
	if v == "" {
		return []string{}, true
	}
	return strings.Split(v, ","), true
}

func parseMicros(s string) (time.Duration, error) {
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(us) * time.Microsecond, nil
}

// EncodeDeltaTime formats seconds so that decoding gives back the same float64
func EncodeDeltaTime(seconds float64) map[string]string {
	return map[string]string{ArgDeltaTime: strconv.FormatFloat(seconds, 'g', -1, 64)}
}

// DecodeDeltaTime parses a GetDeltaTime result
func DecodeDeltaTime(result map[string]string) (float64, error) {
	v, ok := result[ArgDeltaTime]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingArgument, ArgDeltaTime)
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, ArgDeltaTime, err)
	}
	return seconds, nil
}

// EncodeTimecode builds the result map of a GetTimecode response
func EncodeTimecode(v framecache.TimecodeValue) map[string]string {
	return map[string]string{
		ArgTimecode:  v.Timecode.String(),
		ArgFrameRate: v.FrameRate.String(),
	}
}

// DecodeTimecode parses a GetTimecode result
func DecodeTimecode(result map[string]string) (framecache.TimecodeValue, error) {
	var v framecache.TimecodeValue
	tc, err := framecache.ParseTimecode(result[ArgTimecode])
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	rate, err := framecache.ParseFrameRate(result[ArgFrameRate])
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return framecache.TimecodeValue{Timecode: tc, FrameRate: rate}, nil
}

// EncodeJSONEvent builds the payload of an EmitClusterEventJson request
func EncodeJSONEvent(ev events.JSONEvent) (*Request, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json event: %w", err)
	}
	req := NewRequest(ReqEmitClusterEventJSON, nil)
	req.Payload = data
	return req, nil
}

// DecodeJSONEvent parses an EmitClusterEventJson request
func DecodeJSONEvent(req *Request) (events.JSONEvent, error) {
	var ev events.JSONEvent
	if len(req.Payload) == 0 {
		return ev, fmt.Errorf("%w: event payload", ErrMissingArgument)
	}
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return ev, nil
}

// EncodeBinaryEvent builds an EmitClusterEventBinary request. The event
// header travels in the arguments and the payload is snappy compressed.
func EncodeBinaryEvent(ev events.BinaryEvent) *Request {
	req := NewRequest(ReqEmitClusterEventBinary, map[string]string{
		ArgEventID:     strconv.FormatInt(int64(ev.EventID), 10),
		ArgIsSystem:    strconv.FormatBool(ev.IsSystemEvent),
		ArgDiscard:     strconv.FormatBool(ev.DiscardOnRepeat),
		ArgCompression: compressionSnappy,
	})
	req.Payload = snappy.Encode(nil, ev.Payload)
	return req
}

// DecodeBinaryEvent parses an EmitClusterEventBinary request
func DecodeBinaryEvent(req *Request) (events.BinaryEvent, error) {
	var ev events.BinaryEvent

	id, ok := req.Arg(ArgEventID)
	if !ok {
		return ev, fmt.Errorf("%w: %s", ErrMissingArgument, ArgEventID)
	}
	n, err := strconv.ParseInt(id, 10, 32)
	if err != nil {
		return ev, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, ArgEventID, err)
	}
	ev.EventID = int32(n)
	ev.IsSystemEvent, _ = strconv.ParseBool(req.Args[ArgIsSystem])
	ev.DiscardOnRepeat, _ = strconv.ParseBool(req.Args[ArgDiscard])

	payload, err := decompress(req.Args[ArgCompression], req.Payload)
	if err != nil {
		return ev, err
	}
	ev.Payload = payload
	return ev, nil
}

// EncodeEventsData builds a GetEventsData response: JSON events in the result
// map, binary events as a snappy compressed JSON payload.
func EncodeEventsData(req *Request, data framecache.EventsData) (*Response, error) {
	jsonEvents, err := json.Marshal(nonNil(data.JSON))
	if err != nil {
		return nil, fmt.Errorf("failed to encode json events: %w", err)
	}
	binaryEvents, err := json.Marshal(nonNil(data.Binary))
	if err != nil {
		return nil, fmt.Errorf("failed to encode binary events: %w", err)
	}

	resp := req.Reply(map[string]string{
		ArgJSONEvents:  string(jsonEvents),
		ArgCompression: compressionSnappy,
	})
	resp.Payload = snappy.Encode(nil, binaryEvents)
	return resp, nil
}

// DecodeEventsData parses a GetEventsData response
func DecodeEventsData(resp *Response) (framecache.EventsData, error) {
	var data framecache.EventsData

	if raw := resp.Result[ArgJSONEvents]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &data.JSON); err != nil {
			return data, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, ArgJSONEvents, err)
		}
	}
	if len(resp.Payload) > 0 {
		raw, err := decompress(resp.Result[ArgCompression], resp.Payload)
		if err != nil {
			return data, err
		}
		if err := json.Unmarshal(raw, &data.Binary); err != nil {
			return data, fmt.Errorf("%w: binary events: %v", ErrInvalidArgument, err)
		}
	}
	return data, nil
}

func decompress(kind string, payload []byte) ([]byte, error) {
	switch kind {
	case "":
		return payload, nil
	case compressionSnappy:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt snappy payload: %v", ErrInvalidArgument, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidArgument, kind)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
