package connmgr

import "errors"

// Custom WebSocket close codes. Standard codes (1000, 1001) are defined by RFC 6455; the 4000 range
// is reserved for application use.
const (
	CloseSlowConsumer   = 4000
	CloseDecodeError    = 4001
	CloseUnknownType    = 4002
	CloseNotSubscribed  = 4003
	CloseServerShutdown = 4004
)

// ErrSlowConsumer is returned internally when a connection's outbox is full at publish time.
var ErrSlowConsumer = errors.New("connection outbox full")
