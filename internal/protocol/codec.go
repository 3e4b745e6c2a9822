package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrUnknownMessage is returned for a record that carries none of the variant markers.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrMalformed is returned for a record whose body does not decode.
	ErrMalformed = errors.New("malformed message")
)

// MaxRecordSize bounds a single line on the wire.
const MaxRecordSize = 1 << 20

// markerOrder is the order in which markers are looked for. Disconnect must come before
// Connect because the former contains the latter.
var markerOrder = []Kind{
	KindStateSync,
	KindHandSync,
	KindIntentRequest,
	KindIntentResult,
	KindChallengeWindowOpened,
	KindTurnTransition,
	KindDisconnect,
	KindConnect,
}

type record struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode serialises a message as a single newline-terminated JSON record.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Kind(), err)
	}
	line, err := json.Marshal(record{Kind: msg.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", msg.Kind(), err)
	}
	return append(line, '\n'), nil
}

// sniff finds the variant by searching the raw record for the first marker present.
// Any text field that happens to contain an earlier marker will win over the real kind.
func sniff(line []byte) (Kind, bool) {
	for _, k := range markerOrder {
		if bytes.Contains(line, []byte(k)) {
			return k, true
		}
	}
	return "", false
}

// Decode parses one record. The variant is chosen by marker sniffing before the structured decode.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	kind, ok := sniff(line)
	if !ok {
		return nil, ErrUnknownMessage
	}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	var err error
	switch kind {
	case KindConnect:
		var m Connect
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindDisconnect:
		var m Disconnect
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindStateSync:
		var m StateSync
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindHandSync:
		var m HandSync
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindIntentRequest:
		var m IntentRequest
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindIntentResult:
		var m IntentResult
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindChallengeWindowOpened:
		var m ChallengeWindowOpened
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	case KindTurnTransition:
		var m TurnTransition
		err = json.Unmarshal(rec.Data, &m)
		msg = m
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return msg, nil
}

// Writer frames messages onto a stream. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes msg and writes it as one line. The write is not bounded by a deadline.
func (w *Writer) Write(msg Message) error {
	line, err := Encode(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(line)
	return err
}

// Reader splits a stream into records.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxRecordSize)
	return &Reader{sc: sc}
}

// Next returns the next raw record. It returns io.EOF on a clean close.
func (r *Reader) Next() ([]byte, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Read returns the next decoded message. Protocol errors are returned wrapped with
// ErrUnknownMessage or ErrMalformed and leave the stream usable; any other error is fatal.
func (r *Reader) Read() (Message, error) {
	line, err := r.Next()
	if err != nil {
		return nil, err
	}
	return Decode(line)
}

// IsProtocolError reports whether err only affects a single record.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownMessage) || errors.Is(err, ErrMalformed)
}
