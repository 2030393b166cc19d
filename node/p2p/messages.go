package p2p

// Commands are the outer envelope tags (see envelope.go); "frame" carries
// the binary-encoded TransportMessage (transport.go), everything else is
// handshake/control traffic that never needs reliability bookkeeping.
const (
	CmdHello     = "hello"
	CmdHelloAck  = "helloack"
	CmdReject    = "reject"
	CmdPing      = "ping"
	CmdPong      = "pong"
	CmdFrame     = "frame"
	CmdBlockReq  = "blockreq"
	CmdBlockResp = "blockresp"
)

const (
	RejectMalformed    = 0x01
	RejectInvalid      = 0x10
	RejectObsolete      = 0x11
	RejectNetworkIDMismatch = 0x20
)
