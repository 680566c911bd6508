package protocol

import (
	"fmt"
	"maps"
)

// Request names
const (
	ReqHello                  = "Hello"
	ReqWaitForGameStart       = "WaitForGameStart"
	ReqWaitForFrameStart      = "WaitForFrameStart"
	ReqWaitForFrameEnd        = "WaitForFrameEnd"
	ReqWaitForSwapSync        = "WaitForSwapSync"
	ReqGetDeltaTime           = "GetDeltaTime"
	ReqGetTimecode            = "GetTimecode"
	ReqGetSyncData            = "GetSyncData"
	ReqGetInputData           = "GetInputData"
	ReqGetEventsData          = "GetEventsData"
	ReqGetNativeInputData     = "GetNativeInputData"
	ReqEmitClusterEventJSON   = "EmitClusterEventJson"
	ReqEmitClusterEventBinary = "EmitClusterEventBinary"
)

// Argument and result keys
const (
	ArgNodeID      = "NodeId"
	ArgSessionID   = "SessionId"
	ArgPrimaryID   = "PrimaryId"
	ArgSyncGroup   = "SyncGroup"
	ArgWaitResult  = "WaitResult"
	ArgThreadTime  = "ThreadTime"
	ArgBarrierTime = "BarrierTime"
	ArgLaggards    = "Laggards"
	ArgEventSeq    = "EventSeq"
	ArgEventsSent  = "EventsSent"
	ArgDeltaTime   = "DeltaTime"
	ArgTimecode    = "Timecode"
	ArgFrameRate   = "FrameRate"
	ArgJSONEvents  = "JsonEvents"
	ArgEventID     = "EventId"
	ArgIsSystem    = "IsSystemEvent"
	ArgDiscard     = "ShouldDiscardOnRepeat"
	ArgCompression = "Compression"
)

// Request is a named call with string arguments and an optional binary payload
type Request struct {
	ID      uint64            `json:"id"`
	Name    string            `json:"name"`
	Args    map[string]string `json:"args,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
}

// NewRequest creates a request with a copy of args
func NewRequest(name string, args map[string]string) *Request {
	return &Request{Name: name, Args: maps.Clone(args)}
}

// Arg returns an argument value
func (r *Request) Arg(key string) (string, bool) {
	v, ok := r.Args[key]
	return v, ok
}

// Reply builds a successful response to r
func (r *Request) Reply(result map[string]string) *Response {
	return &Response{ID: r.ID, Name: r.Name, Result: result}
}

// Fail builds an error response to r
func (r *Request) Fail(code ErrorCode, format string, args ...any) *Response {
	return &Response{ID: r.ID, Name: r.Name, Error: code, Message: fmt.Sprintf(format, args...)}
}

// Response answers a Request with the same ID and name
type Response struct {
	ID      uint64            `json:"id"`
	Name    string            `json:"name"`
	Result  map[string]string `json:"result,omitempty"`
	Payload []byte            `json:"payload,omitempty"`
	Error   ErrorCode         `json:"error,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Err returns a *RemoteError for failed responses, nil otherwise
func (r *Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return &RemoteError{Request: r.Name, Code: r.Error, Message: r.Message}
}
