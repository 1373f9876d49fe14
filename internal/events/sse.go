package events

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxLineBytes = 1 << 20

// Message is one dispatched Server-Sent Events message.
type Message struct {
	ID    string
	Event string
	Data  string
	// Retry is the reconnection delay requested by the server, if any.
	Retry time.Duration
}

// readMessages parses an SSE stream and calls fn for each complete message.
// It returns the scanner error, or nil at EOF.
func readMessages(r io.Reader, fn func(Message)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		msg     Message
		data    strings.Builder
		hasData bool
	)
	flush := func() {
		if hasData {
			msg.Data = strings.TrimSuffix(data.String(), "\n")
			if msg.Event == "" {
				msg.Event = "message"
			}
			fn(msg)
		} else if msg.Retry > 0 {
			fn(Message{Retry: msg.Retry})
		}
		msg = Message{ID: msg.ID}
		data.Reset()
		hasData = false
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Event = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				msg.ID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				msg.Retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	return scanner.Err()
}
