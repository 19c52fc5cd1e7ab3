package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/campusgrid/campusgrid/pkg/types"
)

const (
	// HeaderSize is the fixed width of the ASCII length prefix
	HeaderSize = 10

	// MaxMessageSize bounds a declared frame length. Job results carry
	// base64 file payloads capped at 10 MiB per file, so frames are large
	// but finite; anything beyond this is a protocol violation.
	MaxMessageSize = 256 << 20
)

// MessageType tags a wire message
type MessageType string

const (
	TypeRegister    MessageType = "register"
	TypeRegistered  MessageType = "registered"
	TypeHeartbeat   MessageType = "heartbeat"
	TypeRequestJob  MessageType = "request_job"
	TypeJob         MessageType = "job"
	TypeNoJob       MessageType = "no_job"
	TypeJobResult   MessageType = "job_result"
	TypeJobReceived MessageType = "job_received"
	TypeDisconnect  MessageType = "disconnect"
)

// Message is the wire envelope. The protocol is flat JSON with a type tag;
// fields not belonging to a given type are simply absent. Validate enforces
// the per-type schema after decode.
type Message struct {
	Type MessageType `json:"type"`

	// register / registered
	Name       string       `json:"name,omitempty"`
	OwnerToken string       `json:"owner_token,omitempty"`
	Specs      *types.Specs `json:"specs,omitempty"`
	WorkerID   string       `json:"worker_id,omitempty"`
	Message    string       `json:"message,omitempty"`

	// heartbeat
	Status string `json:"status,omitempty"`

	// job / job_result
	JobID         string             `json:"job_id,omitempty"`
	Title         string             `json:"title,omitempty"`
	Code          string             `json:"code,omitempty"`
	Requirements  string             `json:"requirements,omitempty"`
	Timeout       int                `json:"timeout,omitempty"`
	CreditReward  int                `json:"credit_reward,omitempty"`
	Success       bool               `json:"success,omitempty"`
	Output        string             `json:"output,omitempty"`
	Error         string             `json:"error,omitempty"`
	Files         []types.OutputFile `json:"files,omitempty"`
	ExecutionTime float64            `json:"execution_time,omitempty"`
}

// ErrUnknownType is returned when a frame carries an unrecognized type tag.
// Sessions treat it as a protocol error and close.
type ErrUnknownType struct {
	Type MessageType
}

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// Validate checks the per-type required fields
func (m *Message) Validate() error {
	switch m.Type {
	case TypeRegister:
		if m.Name == "" {
			return fmt.Errorf("register: missing name")
		}
		if m.Specs == nil {
			return fmt.Errorf("register: missing specs")
		}
	case TypeRegistered:
		if m.WorkerID == "" {
			return fmt.Errorf("registered: missing worker_id")
		}
	case TypeHeartbeat, TypeRequestJob:
		if m.WorkerID == "" {
			return fmt.Errorf("%s: missing worker_id", m.Type)
		}
	case TypeJob:
		if m.JobID == "" || m.Code == "" {
			return fmt.Errorf("job: missing job_id or code")
		}
	case TypeJobResult:
		if m.JobID == "" {
			return fmt.Errorf("job_result: missing job_id")
		}
	case TypeJobReceived:
		if m.JobID == "" {
			return fmt.Errorf("job_received: missing job_id")
		}
	case TypeNoJob, TypeDisconnect:
		// no body
	default:
		return ErrUnknownType{Type: m.Type}
	}
	return nil
}

// Encode serializes a message into a length-prefixed frame
func Encode(msg *Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, fmt.Sprintf("%010d", len(body))...)
	return append(frame, body...), nil
}

// Write encodes and writes one message to w
func Write(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Read reads one framed message from r, blocking until the declared length
// has arrived or the peer closes. A zero-length frame is the keepalive /
// no_job sentinel and decodes to a no_job message. Malformed frames return
// an error; callers drop the connection.
func Read(r io.Reader) (*Message, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	size, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return &Message{Type: TypeNoJob}, nil
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func parseHeader(header []byte) (int, error) {
	size := 0
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed frame header %q", header)
		}
		size = size*10 + int(c-'0')
		if size > MaxMessageSize {
			return 0, fmt.Errorf("frame length %d exceeds limit", size)
		}
	}
	return size, nil
}
