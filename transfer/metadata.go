// Package transfer implements the per-file sender and receiver pipelines
// (§4.6, §4.7): chunking, per-packet ACK with retry, the receiver's
// out-of-order buffer, and progress reporting. It sits on top of
// session.Session, which supplies the handshake, liveness and raw
// frame dispatch this package assumes are already running.
package transfer

import "encoding/json"

// FileMetadata is the UTF-8 JSON payload carried by a META frame (§3,
// §4.6 step 1).
type FileMetadata struct {
	Seq      uint32 `json:"seq"`
	Name     string `json:"name"`
	MIME     string `json:"mime"`
	Size     uint64 `json:"size"`
	MTime    int64  `json:"mtime"`     // ms since epoch
	OriginTS int64  `json:"origin_ts"` // ms since epoch at sender start
}

func encodeMetadata(m FileMetadata) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMetadata(b []byte) (FileMetadata, error) {
	var m FileMetadata
	err := json.Unmarshal(b, &m)
	return m, err
}
