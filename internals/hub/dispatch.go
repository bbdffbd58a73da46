package hub

import (
	"encoding/json"

	"github.com/thebowwman/fleetcast/internals/domain"
)

func (h *Hub) dispatch(c *Client, data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply(domain.Frame{Type: domain.TypeError, Message: "Invalid message format"})
		return
	}

	switch f.Type {
	case domain.TypeSubscribe:
		topic, ok := topicOf(f)
		if !ok {
			c.reply(domain.Frame{Type: domain.TypeError, Message: "bookingId or userId required"})
			return
		}
		if !h.Subscribe(c, topic) {
			return
		}
		h.log.Debug("subscribed", "action", "topic_subscribed", "client_id", c.ID, "topic", topic)
		c.reply(domain.Frame{Type: domain.TypeSubscribed, BookingID: f.BookingID, UserID: f.UserID})

	case domain.TypeUnsubscribe:
		topic, ok := topicOf(f)
		if !ok {
			c.reply(domain.Frame{Type: domain.TypeError, Message: "bookingId or userId required"})
			return
		}
		h.Unsubscribe(c, topic)

	case domain.TypePing:
		c.reply(domain.Frame{Type: domain.TypePong})

	default:
		c.reply(domain.Frame{Type: domain.TypeError, Message: "Unknown message type"})
	}
}

// topicOf maps a frame to a trip topic, or a user topic when only userId is set.
func topicOf(f domain.Frame) (string, bool) {
	if f.BookingID != "" {
		return f.BookingID, true
	}
	if f.UserID != "" {
		return domain.UserTopic(f.UserID), true
	}
	return "", false
}
