package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"peerchat/internal/domain"
)

// Type is the wire discriminator.
type Type string

const (
	TypeDiscovery     Type = "discovery"
	TypeSessionKey    Type = "session_key"
	TypeSecureMessage Type = "secure_message"
	TypeStatusUpdate  Type = "status_update"
)

// Packet is implemented by every wire variant.
type Packet interface {
	PacketType() Type
	validate() error
}

// Discovery announces a node on the LAN.
type Discovery struct {
	UserID    domain.NodeID   `json:"user_id"`
	Username  domain.Username `json:"username"`
	PublicKey string          `json:"public_key"`
	TCPPort   int             `json:"tcp_port,omitempty"`
}

// SessionKey carries a wrapped symmetric key, base64 in Data.
type SessionKey struct {
	SenderID domain.NodeID `json:"sender_id"`
	Data     string        `json:"data"`
}

// Payload is the base64 encoded AEAD output of a chat message.
type Payload struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// SecureMessage is one encrypted chat message. MessageID is the sender's
// local log id and is echoed back in status updates.
type SecureMessage struct {
	Sender    domain.Username  `json:"sender"`
	SenderID  domain.NodeID    `json:"sender_id"`
	MessageID domain.MessageID `json:"message_id,omitempty"`
	Payload   Payload          `json:"payload"`
	Timestamp Timestamp        `json:"timestamp"`
}

// StatusUpdate moves a message the receiver previously sent to a new status.
type StatusUpdate struct {
	SenderID  domain.NodeID        `json:"sender_id,omitempty"`
	MessageID domain.MessageID     `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
}

func (Discovery) PacketType() Type     { return TypeDiscovery }
func (SessionKey) PacketType() Type    { return TypeSessionKey }
func (SecureMessage) PacketType() Type { return TypeSecureMessage }
func (StatusUpdate) PacketType() Type  { return TypeStatusUpdate }

func (d Discovery) validate() error {
	switch {
	case d.UserID == "":
		return missing("user_id")
	case d.Username == "":
		return missing("username")
	case d.PublicKey == "":
		return missing("public_key")
	case d.TCPPort < 0 || d.TCPPort > math.MaxUint16:
		return fmt.Errorf("%w: tcp_port %d out of range", domain.ErrMalformedPacket, d.TCPPort)
	}
	return nil
}

func (s SessionKey) validate() error {
	switch {
	case s.SenderID == "":
		return missing("sender_id")
	case s.Data == "":
		return missing("data")
	}
	return nil
}

func (m SecureMessage) validate() error {
	switch {
	case m.Sender == "":
		return missing("sender")
	case m.SenderID == "":
		return missing("sender_id")
	case m.Payload.Nonce == "" || m.Payload.Tag == "":
		return missing("payload")
	}
	return nil
}

func (u StatusUpdate) validate() error {
	if u.MessageID <= 0 {
		return missing("message_id")
	}
	if !u.Status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(u.Status))
	}
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", domain.ErrMalformedPacket, field)
}

// Timestamp is a wall-clock time encoded as fractional Unix seconds.
type Timestamp struct{ time.Time }

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp{time.Now()} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	secs := float64(t.UnixNano()) / float64(time.Second)
	return json.Marshal(secs)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		t.Time = time.Time{}
		return nil
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second)))
	return nil
}

// Encode marshals p with its "type" field.
func Encode(p Packet) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(p.PacketType())
	if err != nil {
		return nil, err
	}
	// body is a JSON object; splice the discriminator in front of its fields.
	out := make([]byte, 0, len(body)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

// Decode parses one packet. Errors wrap domain.ErrMalformedPacket or
// domain.ErrUnknownPacketType.
func Decode(data []byte) (Packet, error) {
	data = bytes.TrimSpace(data)
	var head struct {
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPacket, err)
	}
	if head.Type == nil {
		return nil, missing("type")
	}

	var p Packet
	var err error
	switch *head.Type {
	case TypeDiscovery:
		p, err = decodeAs[Discovery](data)
	case TypeSessionKey:
		p, err = decodeAs[SessionKey](data)
	case TypeSecureMessage:
		p, err = decodeAs[SecureMessage](data)
	case TypeStatusUpdate:
		p, err = decodeAs[StatusUpdate](data)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPacketType, string(*head.Type))
	}
	if err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeAs[T Packet](data []byte) (Packet, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPacket, err)
	}
	return v, nil
}
