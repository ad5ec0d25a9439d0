// Shape-tolerant decoding of remote responses. The service's response
// shapes vary between deployments, so each logical payload is probed by an
// ordered list of named decoders; the first decoder that recognizes the
// shape wins.
package transport

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/consync/consync/pkg/models"
)

// listDecoder recognizes one conversation-list shape and extracts its item
// array. ok is false when the payload is not this shape.
type listDecoder struct {
	name   string
	decode func(payload gjson.Result) (items []gjson.Result, ok bool)
}

// listDecoders is tried in order by DecodeConversationList.
var listDecoders = []listDecoder{
	{
		name: "wrapped_object",
		decode: func(payload gjson.Result) ([]gjson.Result, bool) {
			list := payload.Get("conversations")
			if !list.IsArray() {
				return nil, false
			}
			return list.Array(), true
		},
	},
	{
		name: "bare_array",
		decode: func(payload gjson.Result) ([]gjson.Result, bool) {
			if !payload.IsArray() {
				return nil, false
			}
			return payload.Array(), true
		},
	},
}

// DecodeConversationList parses a list response of any recognized shape.
// Unrecognized shapes return ErrMalformedResponse so callers can move on to
// the next endpoint candidate.
func DecodeConversationList(body []byte, defaultOrg string) ([]models.Conversation, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedResponse)
	}
	payload := gjson.ParseBytes(body)

	for _, dec := range listDecoders {
		items, ok := dec.decode(payload)
		if !ok {
			continue
		}
		conversations := make([]models.Conversation, 0, len(items))
		for i, item := range items {
			conversations = append(conversations, decodeConversationItem(item, i, defaultOrg))
		}
		return conversations, nil
	}

	return nil, fmt.Errorf("%w: no recognized list shape", ErrMalformedResponse)
}

// decodeConversationItem maps one raw item onto a Conversation, trying a
// short ordered list of candidate field names per attribute and falling
// back to synthesized values where none match.
func decodeConversationItem(item gjson.Result, index int, defaultOrg string) models.Conversation {
	id := firstString(item, "uuid", "id", "conversation_id")
	if id == "" {
		id = fmt.Sprintf("conv_%d", index)
	}

	title := firstString(item, "name", "title", "subject")
	if title == "" {
		title = fmt.Sprintf("Conversation %d", index+1)
	}

	created := firstTime(item, time.Now(), "created_at", "createdAt", "created")
	updated := firstTime(item, created, "updated_at", "updatedAt", "updated")

	count := int(firstResult(item, "message_count", "messageCount").Int())
	if count < 0 {
		count = 0
	}

	org := firstString(item, "organization_uuid", "organizationId")
	if org == "" {
		org = defaultOrg
	}

	return models.Conversation{
		ID:             id,
		Title:          title,
		CreatedAt:      created,
		UpdatedAt:      updated,
		MessageCount:   count,
		OrganizationID: org,
	}
}

// DecodeCreatedID extracts the new conversation id from a create response.
func DecodeCreatedID(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: not valid JSON", ErrMalformedResponse)
	}
	payload := gjson.ParseBytes(body)
	if id := firstString(payload, "uuid", "id", "conversation_id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no conversation id in create response", ErrMalformedResponse)
}

func firstResult(item gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstTime(item gjson.Result, fallback time.Time, keys ...string) time.Time {
	for _, key := range keys {
		v := item.Get(key)
		if !v.Exists() || v.String() == "" {
			continue
		}
		if t, err := parseTimestamp(v.String()); err == nil {
			return t
		}
	}
	return fallback
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
