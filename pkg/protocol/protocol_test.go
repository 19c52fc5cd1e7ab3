package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgrid/campusgrid/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "register",
			msg: &Message{
				Type:       TypeRegister,
				Name:       "lab-machine-1",
				OwnerToken: "alice",
				Specs: &types.Specs{
					CPUCores:  8,
					CPUModel:  "Intel Xeon",
					RAMGb:     16,
					HasDocker: true,
				},
			},
		},
		{
			name: "heartbeat",
			msg:  &Message{Type: TypeHeartbeat, WorkerID: "w-1", Status: "idle"},
		},
		{
			name: "job dispatch",
			msg: &Message{
				Type:         TypeJob,
				JobID:        "j-1",
				Title:        "monte carlo",
				Code:         "print('hi')",
				Requirements: "numpy",
				Timeout:      300,
				CreditReward: 15,
			},
		},
		{
			name: "job result with files",
			msg: &Message{
				Type:     TypeJobResult,
				JobID:    "j-1",
				WorkerID: "w-1",
				Success:  true,
				Output:   "done\n",
				Files: []types.OutputFile{
					{Filename: "report.pdf", Size: 2048, Content: "aGVsbG8="},
				},
				ExecutionTime: 1.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tt.msg))

			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestHeaderIsZeroPaddedDecimal(t *testing.T) {
	frame, err := Encode(&Message{Type: TypeDisconnect})
	require.NoError(t, err)

	header := string(frame[:HeaderSize])
	assert.Regexp(t, `^\d{10}$`, header)
	assert.Equal(t, len(frame)-HeaderSize, mustAtoi(t, header))
}

func TestZeroLengthFrameIsNoJobSentinel(t *testing.T) {
	msg, err := Read(strings.NewReader("0000000000"))
	require.NoError(t, err)
	assert.Equal(t, TypeNoJob, msg.Type)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "truncated header", input: "00000"},
		{name: "non-numeric header", input: "size=00042"},
		{name: "truncated body", input: "0000000010{\"type\""},
		{name: "invalid json body", input: "0000000004nope"},
		{name: "unknown type tag", input: frameFor(`{"type":"teleport"}`)},
		{name: "register without specs", input: frameFor(`{"type":"register","name":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestReadEOFOnClosedPeer(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.Equal(t, io.EOF, err)
}

func TestOversizeDeclaredLengthRejected(t *testing.T) {
	_, err := Read(strings.NewReader("9999999999"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestSequentialMessagesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	first := &Message{Type: TypeRequestJob, WorkerID: "w-1"}
	second := &Message{Type: TypeHeartbeat, WorkerID: "w-1", Status: "idle"}
	require.NoError(t, Write(&buf, first))
	require.NoError(t, Write(&buf, second))

	got1, err := Read(&buf)
	require.NoError(t, err)
	got2, err := Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, first, got1)
	assert.Equal(t, second, got2)
}

func frameFor(body string) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("0", HeaderSize-len(itoa(len(body)))))
	b.WriteString(itoa(len(body)))
	b.WriteString(body)
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
