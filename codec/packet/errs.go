package packet

import "errors"

// ErrFirstPacketNotConnect is returned when the first packet read off a
// fresh connection isn't a CONNECT, so no protocol version can be peeked.
var ErrFirstPacketNotConnect = errors.New("first packet on connection must be CONNECT")
