package events

import (
	"strings"
	"testing"
	"time"
)

func TestReadMessagesParsesFields(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"retry: 1500",
		"",
		"id: 7",
		"event: url-fetch-progress",
		"data: {\"data\":",
		"data: \"{}\"}",
		"",
		"data: plain\r",
		"",
		"event: ignored-without-data",
		"",
	}, "\n")

	var got []Message
	if err := readMessages(strings.NewReader(stream), func(m Message) { got = append(got, m) }); err != nil {
		t.Fatalf("readMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %+v", got)
	}
	if got[0].Retry != 1500*time.Millisecond || got[0].Data != "" {
		t.Fatalf("unexpected retry message %+v", got[0])
	}
	if got[1].ID != "7" || got[1].Event != "url-fetch-progress" || got[1].Data != "{\"data\":\n\"{}\"}" {
		t.Fatalf("unexpected event message %+v", got[1])
	}
	if got[2].Event != "message" || got[2].Data != "plain" || got[2].ID != "7" {
		t.Fatalf("unexpected default message %+v", got[2])
	}
}
