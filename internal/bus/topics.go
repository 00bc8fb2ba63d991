package bus

// Topics carried over the message bus. Radio frame topics carry both the
// decoded event and the raw payload so the virtual device server can fan
// the untouched bytes out to its clients.
const (
	TopicConnStatus    = "conn.status"
	TopicRadioFrom     = "radio.from"
	TopicRadioFromRaw  = "radio.from.raw"
	TopicCaptureDone   = "radio.capture.done"
	TopicNodeUpdate    = "node.update"
	TopicChannelUpdate = "channel.update"
	TopicMessage       = "message.stored"
	TopicMessageState  = "message.state"
	TopicTelemetry     = "telemetry.sample"
	TopicTraceroute    = "traceroute.result"
	TopicPosition      = "position.update"
)
