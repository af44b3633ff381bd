package messaging

// Default broker names; overridable through configuration.
const (
	DefaultBroadcastExchange = "court.queue.events"
	DefaultAuditQueue        = "court-queue-audit"
)

// Event types carried in the broadcast payload.
const (
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)
