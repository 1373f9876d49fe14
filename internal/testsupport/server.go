package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tafkit/internal/api"
)

// Upload records one multipart request to /api/fileUpload.
type Upload struct {
	Dir   string
	Names []string
}

// Encode records one /api/fileEncode request.
type Encode struct {
	Sources []string
	Target  string
}

// TAFUpload records one /api/tafUpload request.
type TAFUpload struct {
	Name string
	Dir  string
	Size int64
}

// FetchResult is the canned answer to /api/urlFetch for one URL.
type FetchResult struct {
	FilePath string
	Error    string
}

// Server is an in-process fake of the TeddyCloud HTTP API. Handlers record
// what they receive and answer from canned state set by the test.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	queues      []*api.Queue
	nextQueue   int
	settings    map[string]string
	urlInfo     map[string]api.URLMetadata
	fetch       map[string]FetchResult
	failures    map[string]int
	uploads     []Upload
	encodes     []Encode
	tafUploads  []TAFUpload
	subscribers map[chan string]struct{}
	eventSeq    int

	// OnFetch runs before /api/urlFetch answers. Tests use it to push
	// progress events while the request is in flight.
	OnFetch func(mediaURL, quality, fetchID string)
}

// NewServer starts a fake server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		settings:    make(map[string]string),
		urlInfo:     make(map[string]api.URLMetadata),
		fetch:       make(map[string]FetchResult),
		failures:    make(map[string]int),
		subscribers: make(map[chan string]struct{}),
	}

	r := chi.NewRouter()
	r.Use(s.injectFailures)
	r.Route("/api", func(r chi.Router) {
		r.Post("/urlInfo", s.handleURLInfo)
		r.Post("/urlFetch", s.handleURLFetch)
		r.Post("/fileUpload", s.handleFileUpload)
		r.Post("/fileEncode", s.handleFileEncode)
		r.Post("/tafUpload", s.handleTAFUpload)
		r.Get("/settings/get/{key}", s.handleSetting)
		r.Get("/sse", s.handleSSE)
		r.Route("/encodeQueue", func(r chi.Router) {
			r.Get("/list", s.handleQueueList)
			r.Post("/create", s.handleQueueCreate)
			r.Post("/add", s.handleQueueAdd)
			r.Post("/start", s.handleQueueStart)
			r.Post("/remove", s.handleQueueRemove)
		})
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Close disconnects event subscribers and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
	s.mu.Unlock()
	s.Server.Close()
}

// SetSetting sets the value returned for a settings key.
func (s *Server) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

// SetURLInfo sets the metadata returned for a media URL.
func (s *Server) SetURLInfo(mediaURL string, meta api.URLMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urlInfo[mediaURL] = meta
}

// SetFetchResult sets the download answer for a media URL.
func (s *Server) SetFetchResult(mediaURL string, result FetchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetch[mediaURL] = result
}

// FailPath makes every request to path answer with status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// AddQueue seeds a queue and returns its id.
func (s *Server) AddQueue(name string, active bool, items ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addQueueLocked(name, active, items)
}

func (s *Server) addQueueLocked(name string, active bool, items []string) string {
	s.nextQueue++
	id := "q" + strconv.Itoa(s.nextQueue)
	s.queues = append(s.queues, &api.Queue{
		QueueID: id,
		Name:    name,
		Items:   append([]string{}, items...),
		Active:  active,
	})
	return id
}

// Queues returns a copy of the server's queues.
func (s *Server) Queues() []api.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Queue, 0, len(s.queues))
	for _, q := range s.queues {
		copied := *q
		copied.Items = append([]string{}, q.Items...)
		out = append(out, copied)
	}
	return out
}

// SetQueueActive flips the active flag of a queue.
func (s *Server) SetQueueActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.findQueueLocked(id); q != nil {
		q.Active = active
	}
}

// Uploads returns the recorded file uploads.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Encodes returns the recorded server encodes.
func (s *Server) Encodes() []Encode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Encode(nil), s.encodes...)
}

// TAFUploads returns the recorded container uploads.
func (s *Server) TAFUploads() []TAFUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TAFUpload(nil), s.tafUploads...)
}

// Subscribers reports how many event streams are connected.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// WaitForSubscribers blocks until at least n event streams are connected.
func (s *Server) WaitForSubscribers(t testing.TB, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Subscribers() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d event subscribers", n)
}

// Push sends a named event to every connected stream. The payload is JSON
// encoded into a string inside the data envelope, as the server does.
func (s *Server) Push(name string, payload any) {
	inner, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	s.broadcast(name, string(inner))
}

// PushInline sends a named event whose envelope carries the payload as an
// inline JSON object.
func (s *Server) PushInline(name string, payload any) {
	s.broadcast(name, payload)
}

// PushRaw sends a frame with data written verbatim.
func (s *Server) PushRaw(name, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(name, data)
}

func (s *Server) broadcast(name string, data any) {
	envelope, err := json.Marshal(map[string]any{"type": name, "data": data})
	if err != nil {
		panic(fmt.Sprintf("marshal event envelope: %v", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(name, string(envelope))
}

func (s *Server) sendLocked(name, data string) {
	s.eventSeq++
	frame := fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", s.eventSeq, name, data)
	for ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// DisconnectSubscribers drops every connected event stream.
func (s *Server) DisconnectSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, ok := s.failures[r.URL.Path]
		s.mu.Unlock()
		if ok {
			writeJSON(w, status, map[string]any{"success": false, "error": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleURLInfo(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.FormValue("url")
	s.mu.Lock()
	meta, ok := s.urlInfo[mediaURL]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, api.URLInfoResponse{Success: false, Error: "Unsupported URL"})
		return
	}
	writeJSON(w, http.StatusOK, api.URLInfoResponse{Success: true, Data: &meta})
}

func (s *Server) handleURLFetch(w http.ResponseWriter, r *http.Request) {
	mediaURL := r.FormValue("url")
	quality := r.FormValue("quality")
	fetchID := r.FormValue("fetchId")
	if hook := s.OnFetch; hook != nil {
		hook(mediaURL, quality, fetchID)
	}

	s.mu.Lock()
	result, ok := s.fetch[mediaURL]
	s.mu.Unlock()
	switch {
	case !ok:
		writeJSON(w, http.StatusOK, api.URLFetchResponse{Success: false, Error: "Download failed"})
	case result.Error != "":
		writeJSON(w, http.StatusOK, api.URLFetchResponse{Success: false, Error: result.Error})
	default:
		writeJSON(w, http.StatusOK, api.URLFetchResponse{Success: true, FilePath: result.FilePath})
	}
}

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	upload := Upload{Dir: r.URL.Query().Get("path")}
	for _, fh := range r.MultipartForm.File["file"] {
		upload.Names = append(upload.Names, fh.Filename)
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, upload)
	s.mu.Unlock()
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleFileEncode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call := Encode{Sources: append([]string{}, r.PostForm["source"]...), Target: r.PostForm.Get("target")}
	s.mu.Lock()
	s.encodes = append(s.encodes, call)
	s.mu.Unlock()
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleTAFUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	upload := TAFUpload{Name: query.Get("name"), Dir: query.Get("path")}
	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		upload.Size = files[0].Size
	}
	s.mu.Lock()
	s.tafUploads = append(s.tafUploads, upload)
	s.mu.Unlock()
	writeText(w, http.StatusOK, "OK")
}

func (s *Server) handleSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.mu.Lock()
	value, ok := s.settings[key]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown setting", http.StatusNotFound)
		return
	}
	writeText(w, http.StatusOK, value)
}

func (s *Server) handleQueueList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.Queues()})
}

func (s *Server) handleQueueCreate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeJSON(w, http.StatusOK, map[string]any{"error": "name required"})
		return
	}
	s.mu.Lock()
	id := s.addQueueLocked(name, false, nil)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"queueId": id})
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.findQueueLocked(r.FormValue("queueId"))
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "queue not found"})
		return
	}
	q.Items = append(q.Items, r.FormValue("filePath"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleQueueStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.findQueueLocked(r.FormValue("queueId"))
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "queue not found"})
		return
	}
	q.Active = true
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.FormValue("queueId")
	q := s.findQueueLocked(id)
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "queue not found"})
		return
	}
	if raw := r.FormValue("index"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil || index < 0 || index >= len(q.Items) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "index out of range"})
			return
		}
		q.Items = append(q.Items[:index], q.Items[index+1:]...)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	for i, candidate := range s.queues {
		if candidate.QueueID == id {
			s.queues = append(s.queues[:i], s.queues[i+1:]...)
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch := make(chan string, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprint(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) findQueueLocked(id string) *api.Queue {
	for _, q := range s.queues {
		if q.QueueID == id {
			return q
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}
