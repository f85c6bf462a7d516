// Package rpc serves the monitoring API over JSON-lines sessions.
//
// Every line a client writes is a request; every line the server writes is a
// response, a stream event or a background delivery:
//
//	-> {"id":1,"method":"registerRegion","args":{"identifier":"lobby"}}
//	<- {"id":1,"result":null}
//	-> {"id":2,"method":"listen","args":{"stream":"monitoring"}}
//	<- {"id":2,"result":null}
//	<- {"stream":"monitoring","event":{"region":{"identifier":"lobby"},"type":"didEnterRegion"}}
//	<- {"method":"","args":{"monitoringCallbackId":7,"monitoringResult":{...}}}
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/srg/beaconmon/internal/beacon"
)

// Stream names accepted by listen and cancel
const (
	StreamMonitoring = "monitoring"
	StreamRanging    = "ranging"
)

// Request is one client call
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// ErrorBody is the wire form of a coded error
type ErrorBody struct {
	Code    beacon.Code `json:"code"`
	Message string      `json:"message,omitempty"`
}

type resultResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type errorResponse struct {
	ID    int64      `json:"id"`
	Error *ErrorBody `json:"error"`
}

// StreamEvent carries one event, or the error that ended a listen attempt
type StreamEvent struct {
	Stream string     `json:"stream"`
	Event  any        `json:"event,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// backgroundMessage mirrors the unnamed method call the background client dispatches on
type backgroundMessage struct {
	Method string                  `json:"method"`
	Args   beacon.BackgroundResult `json:"args"`
}

func errorBody(err error) *ErrorBody {
	var e *beacon.Error
	if errors.As(err, &e) && error(e) == err {
		return &ErrorBody{Code: e.Code, Message: e.Msg}
	}
	return &ErrorBody{Code: beacon.CodeOf(err), Message: err.Error()}
}
