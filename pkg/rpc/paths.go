package rpc

// HTTP query paths served by the ledger gateway.
const (
	headPath      = "/v1/query/height"
	timestampPath = "/v1/query/timestamp"
	subnetsPath   = "/v1/query/subnets"
)

// JSON-RPC methods served over the websocket transport.
const (
	methodHead      = "ledger_head"
	methodTimestamp = "ledger_timestamp"
	methodSubnets   = "ledger_subnets"
)
