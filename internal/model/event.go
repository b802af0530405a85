package model

// Event represents a miner event type for notification filtering and logging.
type Event string

// All supported miner events.
const (
	EventMinerStarted   Event = "MINER_STARTED"
	EventMinerStopped   Event = "MINER_STOPPED"
	EventMinerError     Event = "MINER_ERROR"
	EventInventorySync  Event = "INVENTORY_SYNC"
	EventDropProgress   Event = "DROP_PROGRESS"
	EventDropClaim      Event = "DROP_CLAIM"
	EventBonusClaim     Event = "BONUS_CLAIM"
	EventChannelOnline  Event = "CHANNEL_ONLINE"
	EventChannelOffline Event = "CHANNEL_OFFLINE"
	EventChannelSwitch  Event = "CHANNEL_SWITCH"
)

// AllEvents returns a slice of all defined events.
func AllEvents() []Event {
	return []Event{
		EventMinerStarted,
		EventMinerStopped,
		EventMinerError,
		EventInventorySync,
		EventDropProgress,
		EventDropClaim,
		EventBonusClaim,
		EventChannelOnline,
		EventChannelOffline,
		EventChannelSwitch,
	}
}

// String returns the string representation of an Event.
func (e Event) String() string {
	return string(e)
}

// ParseEvent converts a string to an Event. Returns empty string if invalid.
func ParseEvent(s string) Event {
	for _, e := range AllEvents() {
		if string(e) == s {
			return e
		}
	}
	return ""
}

// ChatPresence controls when the miner sits in the watched channel's chat.
type ChatPresence int

const (
	// ChatNever means never join chat.
	ChatNever ChatPresence = iota
	// ChatWatching means join the watched channel's chat and part on switch.
	ChatWatching
)

// String returns the string representation of a ChatPresence value.
func (c ChatPresence) String() string {
	switch c {
	case ChatWatching:
		return "WATCHING"
	default:
		return "NEVER"
	}
}

// ParseChatPresence converts a string to a ChatPresence value.
func ParseChatPresence(s string) ChatPresence {
	switch s {
	case "WATCHING":
		return ChatWatching
	default:
		return ChatNever
	}
}
