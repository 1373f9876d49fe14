package events

import (
	"errors"
	"testing"
)

func TestDecodeURLFetchDoubleEncoded(t *testing.T) {
	data := `{"data":"{\"fetchId\":\"url-1\",\"status\":\"downloading\",\"progress\":42.5}"}`
	event, err := Decode(NameURLFetchProgress, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := event.(URLFetchProgress)
	if !ok {
		t.Fatalf("unexpected type %T", event)
	}
	if got.FetchID != "url-1" || got.Status != "downloading" || got.Progress == nil || *got.Progress != 42.5 {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.FilePath != nil || got.Error != nil {
		t.Fatalf("expected omitted fields to stay nil: %+v", got)
	}
}

func TestDecodeAcceptsInlineObject(t *testing.T) {
	data := `{"data":{"queueId":"q1","index":"2","status":"item-complete","file":"lib/a.taf"}}`
	event, err := Decode(NameEncodeQueueProgress, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := event.(EncodeQueueProgress)
	if got.QueueID != "q1" || got.Index == nil || *got.Index != 2 || got.File != "lib/a.taf" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestDecodeQueueEventWithoutIndex(t *testing.T) {
	event, err := Decode(NameEncodeQueueProgress, `{"data":"{\"queueId\":\"q1\",\"status\":\"queue-complete\"}"}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.(EncodeQueueProgress).Index != nil {
		t.Fatalf("expected nil index")
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
		want  error
	}{
		{"unknown event", "ping", `{"data":"{}"}`, ErrUnknownEvent},
		{"not json", NameURLFetchProgress, `garbage`, ErrMalformed},
		{"no data", NameURLFetchProgress, `{"other":1}`, ErrMalformed},
		{"inner not json", NameURLFetchProgress, `{"data":"not json"}`, ErrMalformed},
		{"missing fetch id", NameURLFetchProgress, `{"data":"{\"status\":\"complete\"}"}`, ErrMalformed},
		{"wrong progress type", NameURLFetchProgress, `{"data":"{\"fetchId\":\"a\",\"progress\":\"x\"}"}`, ErrMalformed},
		{"missing queue id", NameEncodeQueueProgress, `{"data":"{\"index\":1}"}`, ErrMalformed},
		{"negative index", NameEncodeQueueProgress, `{"data":"{\"queueId\":\"q\",\"index\":-1}"}`, ErrMalformed},
		{"fractional index", NameEncodeQueueProgress, `{"data":"{\"queueId\":\"q\",\"index\":1.5}"}`, ErrMalformed},
		{"array data", NameEncodeQueueProgress, `{"data":[1]}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Decode(tt.event, tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got event=%v err=%v", tt.want, event, err)
			}
		})
	}
}
