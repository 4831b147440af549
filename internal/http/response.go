package http

import "txlog/pkg/logfile"

// HealthResponse reports the instance's health flag.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Cause   string `json:"cause,omitempty"`
}

// PositionResponse is a log position in JSON form.
type PositionResponse struct {
	Version uint64 `json:"version"`
	Offset  uint64 `json:"offset"`
}

func positionResponse(p logfile.Position) PositionResponse {
	return PositionResponse{Version: p.Version, Offset: p.Offset}
}

// ErrorResponse carries a request failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AppendRequest carries one transaction payload to append. Byte fields are
// base64 in JSON.
type AppendRequest struct {
	Payload []byte `json:"payload"`
	Header  []byte `json:"header,omitempty"`
}

// AppendResponse reports the committing id the transaction received.
type AppendResponse struct {
	TransactionID int64 `json:"transaction_id"`
}

// StatusResponse reports the instance's watermarks and log shape.
type StatusResponse struct {
	CommittingID     int64            `json:"committing_id"`
	LastCommittedID  int64            `json:"last_committed_id"`
	LastClosedID     int64            `json:"last_closed_id"`
	ClosedLogVersion uint64           `json:"closed_log_version"`
	ClosedByteOffset uint64           `json:"closed_byte_offset"`
	PendingClosed    int              `json:"pending_closed"`
	WritePosition    PositionResponse `json:"write_position"`
	LogVersions      []uint64         `json:"log_versions"`
}
