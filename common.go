package quicframing

// Side identifies which endpoint of the connection owns a registry.
type Side bool

const (
	SideClient Side = false
	SideServer Side = true
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

func (s Side) bit() uint64 {
	if s == SideClient {
		return 0
	}
	return 1
}

type StreamsType bool

const (
	BidiStreams StreamsType = false
	UniStreams  StreamsType = true
)

func (s StreamsType) String() string {
	if s == BidiStreams {
		return "bidirectional streams"
	}
	return "unidirectional streams"
}

func (s StreamsType) bit() uint64 {
	if s == BidiStreams {
		return 0
	}
	return 2
}

// PacketNumber is truncated to 32 bits in this layer, which is enough for
// the acknowledgement ranges the codec carries.
type PacketNumber uint32

func IsBidi(streamId uint64) bool   { return streamId&2 == 0 }
func IsUni(streamId uint64) bool    { return streamId&2 == 2 }
func IsClient(streamId uint64) bool { return streamId&1 == 0 }
func IsServer(streamId uint64) bool { return streamId&1 == 1 }

func IsBidiClient(streamId uint64) bool { return IsBidi(streamId) && IsClient(streamId) }
func IsBidiServer(streamId uint64) bool { return IsBidi(streamId) && IsServer(streamId) }
func IsUniClient(streamId uint64) bool  { return IsUni(streamId) && IsClient(streamId) }
func IsUniServer(streamId uint64) bool  { return IsUni(streamId) && IsServer(streamId) }

// GetMaxBidiClient and friends translate a stream count limit into the
// highest stream id of the category it authorizes.
func GetMaxBidiClient(limit uint64) uint64 { return 0 + limit*4 }
func GetMaxBidiServer(limit uint64) uint64 { return 1 + limit*4 }
func GetMaxUniClient(limit uint64) uint64  { return 2 + limit*4 }
func GetMaxUniServer(limit uint64) uint64  { return 3 + limit*4 }
