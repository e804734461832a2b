package ipc

import (
	"encoding/json"

	"codeberg.org/mutker/jolt/internal/errors"
	"codeberg.org/mutker/jolt/internal/sample"
	"codeberg.org/mutker/jolt/internal/store"
)

// Wire format: newline-delimited JSON, one message per line, UTF-8.
// Every message carries the protocol version; additions must stay
// backwards compatible down to MinSupportedVersion.
const (
	ProtocolVersion     = 2
	MinSupportedVersion = 1
)

// Request kinds.
const (
	KindGetStatus        = "GetStatus"
	KindGetRecentSamples = "GetRecentSamples"
	KindGetHourlyStats   = "GetHourlyStats"
	KindGetDailyStats    = "GetDailyStats"
	KindGetDailyCycles   = "GetDailyCycles"
	KindGetSessions      = "GetSessions"
	KindSubscribe        = "Subscribe"
	KindKillProcess      = "KillProcess"
	KindShutdown         = "Shutdown"
)

// Response kinds.
const (
	KindStatus      = "Status"
	KindSamples     = "Samples"
	KindHourlyStats = "HourlyStats"
	KindDailyStats  = "DailyStats"
	KindDailyCycles = "DailyCycles"
	KindSessions    = "Sessions"
	KindOk          = "Ok"
	KindError       = "Error"
	KindSampleEvent = "SampleEvent"
	KindGoodbye     = "Goodbye"
)

// StreamSamples is the only subscribable stream.
const StreamSamples = "samples"

// Request is one client message. Unused fields stay at their zero
// value on the wire.
type Request struct {
	V    int    `json:"v"`
	Kind string `json:"kind"`

	Limit       int     `json:"limit,omitempty"`
	From        int64   `json:"from,omitempty"`
	To          int64   `json:"to,omitempty"`
	SessionKind *string `json:"session_kind,omitempty"`
	Stream      string  `json:"stream,omitempty"`
	PID         int     `json:"pid,omitempty"`
}

// Response is one server message, either a reply or a push.
type Response struct {
	V    int    `json:"v"`
	Kind string `json:"kind"`

	Status   *Status            `json:"status,omitempty"`
	Samples  []sample.Sample    `json:"samples,omitempty"`
	Hourly   []store.HourlyStat `json:"hourly_stats,omitempty"`
	Daily    []store.DailyStat  `json:"daily_stats,omitempty"`
	Cycles   []store.DailyCycle `json:"daily_cycles,omitempty"`
	Sessions []store.Session    `json:"sessions,omitempty"`
	Sample   *sample.Sample     `json:"sample,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status describes the running daemon.
type Status struct {
	Running             bool   `json:"running"`
	Version             string `json:"version"`
	UptimeS             int64  `json:"uptime_s"`
	IntervalMS          int    `json:"interval_ms"`
	SampleCount         int64  `json:"sample_count"`
	NewestSample        *int64 `json:"newest_sample,omitempty"`
	TickCount           int64  `json:"tick_count"`
	TickMisses          int64  `json:"tick_misses"`
	DatabaseSizeBytes   int64  `json:"database_size_bytes"`
	SubscriberCount     int    `json:"subscriber_count"`
	SchemaVersion       int    `json:"schema_version"`
	ProtocolVersion     int    `json:"protocol_version"`
	MinSupportedVersion int    `json:"min_supported_version"`
}

// DecodeRequest parses one request line.
func DecodeRequest(line []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, errors.New().Wrap(errors.ErrBadRequest, err)
	}
	if req.Kind == "" {
		return Request{}, errors.New().WithMessage(errors.ErrBadRequest, "missing kind")
	}
	return req, nil
}

// EncodeResponse serializes one response line, newline included.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.V == 0 {
		resp.V = ProtocolVersion
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, errors.Internal(err)
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses one response line. Used by the client.
func DecodeResponse(line []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, errors.New().Wrap(errors.ErrBadRequest, err)
	}
	return resp, nil
}

// ErrorResponse builds the standard error reply.
func ErrorResponse(code errors.ErrorCode, message string) Response {
	if message == "" {
		message = errors.GetErrorMessage(code)
	}
	return Response{
		V:       ProtocolVersion,
		Kind:    KindError,
		Code:    string(code),
		Message: message,
	}
}
