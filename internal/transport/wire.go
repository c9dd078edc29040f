package transport

import (
	"encoding/json"
	"fmt"
)

// Response is the wire encoding of a reply: a small integer, to avoid
// enum-serialization ambiguity across implementations. 0 = ACCEPT, 1 = DENY.
type Response int

const (
	Accept Response = 0
	Deny   Response = 1
)

func (r Response) String() string {
	switch r {
	case Accept:
		return "ACCEPT"
	case Deny:
		return "DENY"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

// MarshalJSON always emits the integer form.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(r))
}

// UnmarshalJSON accepts both the integer wire form and the legacy string
// forms "ACCEPT"/"DENY", so a peer running an older build can still be
// understood.
func (r *Response) UnmarshalJSON(data []byte) error {
	var asInt int
	if err := json.Unmarshal(data, &asInt); err == nil {
		*r = Response(asInt)
		return nil
	}

	var asStr string
	if err := json.Unmarshal(data, &asStr); err != nil {
		return fmt.Errorf("response: neither int nor string: %s", data)
	}
	switch asStr {
	case "ACCEPT":
		*r = Accept
	case "DENY":
		*r = Deny
	default:
		return fmt.Errorf("response: unrecognized string form %q", asStr)
	}
	return nil
}

type requestPayload struct {
	Timestamp float64 `json:"timestamp"`
	SenderID  string  `json:"sender_id"`
}

type replyPayload struct {
	SenderID string   `json:"sender_id"`
	Response Response `json:"response"`
}

type heartbeatPayload struct {
	SenderID string `json:"sender_id"`
}
