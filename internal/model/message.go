package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the event carried inside a PubSub message envelope.
type MessageType string

// Message types consumed by the miner.
const (
	// Drop events (user-drop-events topic)
	MsgTypeDropProgress MessageType = "drop-progress"
	MsgTypeDropClaim    MessageType = "drop-claim"

	// Community points events (community-points-user-v1 topic)
	MsgTypePointsEarned   MessageType = "points-earned"
	MsgTypeClaimAvailable MessageType = "claim-available"

	// Stream state events (video-playback-by-id topic)
	MsgTypeStreamUp   MessageType = "stream-up"
	MsgTypeStreamDown MessageType = "stream-down"
	MsgTypeViewCount  MessageType = "viewcount"
	MsgTypeCommercial MessageType = "commercial"
)

// Message is a parsed PubSub message. Data holds the "data" object when the
// payload has one; stream state events carry their fields at the top level,
// available through RawMessage.
type Message struct {
	Topic      *Topic         `json:"topic"`
	Type       MessageType    `json:"type"`
	Data       map[string]any `json:"data,omitempty"`
	RawMessage map[string]any `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Identifier string         `json:"identifier"`
}

// ParseMessage decodes a PubSub MESSAGE payload for the given topic string.
func ParseMessage(topicFull string, rawMessageJSON []byte) (*Message, error) {
	topic, err := ParseTopic(topicFull)
	if err != nil {
		return nil, err
	}

	var msgBody map[string]any
	if err := json.Unmarshal(rawMessageJSON, &msgBody); err != nil {
		return nil, fmt.Errorf("parsing message body: %w", err)
	}

	msgType := ""
	if t, ok := msgBody["type"].(string); ok {
		msgType = t
	}

	var data map[string]any
	if d, ok := msgBody["data"].(map[string]any); ok {
		data = d
	}

	msg := &Message{
		Topic:      topic,
		Type:       MessageType(msgType),
		Data:       data,
		RawMessage: msgBody,
	}

	msg.Timestamp = msg.resolveTimestamp()
	msg.Identifier = fmt.Sprintf("%s.%s", msg.Type, topicFull)

	return msg, nil
}

func (m *Message) resolveTimestamp() time.Time {
	if m.Data != nil {
		if ts, ok := m.Data["timestamp"].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				return t
			}
		}
	}
	return serverTime(m.RawMessage)
}

// String returns a string representation of the message.
func (m *Message) String() string {
	return fmt.Sprintf("Message(type=%s, topic=%s)", m.Type, m.Topic)
}

func serverTime(data map[string]any) time.Time {
	if data != nil {
		if st, ok := data["server_time"].(float64); ok {
			sec := int64(st)
			nsec := int64((st - float64(sec)) * float64(time.Second))
			return time.Unix(sec, nsec).UTC()
		}
	}
	return time.Now().UTC()
}
