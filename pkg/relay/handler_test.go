package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/mp3relay/pkg/fetcher"
	"github.com/sipeed/mp3relay/pkg/metrics"
)

type event struct {
	kind      string
	chatID    int64
	messageID int
	text      string
	audio     Audio
	fileSeen  bool
}

type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	events  []event
	sendErr error
	editErr error
	audErr  error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 100}
}

func (m *fakeMessenger) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: "delete", chatID: chatID, messageID: messageID})
	return nil
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextID++
	m.events = append(m.events, event{kind: "send", chatID: chatID, messageID: m.nextID, text: text})
	return m.nextID, nil
}

func (m *fakeMessenger) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.events = append(m.events, event{kind: "edit", chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (m *fakeMessenger) SendAudio(_ context.Context, chatID int64, audio Audio) error {
	_, statErr := os.Stat(audio.Path)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event{kind: "audio", chatID: chatID, audio: audio, fileSeen: statErr == nil})
	return m.audErr
}

func (m *fakeMessenger) snapshot() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event(nil), m.events...)
}

func (m *fakeMessenger) kinds(chatID int64) []string {
	var out []string
	for _, e := range m.snapshot() {
		if e.chatID == chatID {
			out = append(out, e.kind)
		}
	}
	return out
}

// fileFetcher writes <dir>/<id>.mp3 for each locator, where id is taken
// from the ids map.
func fileFetcher(t *testing.T, dir string, ids map[string]string, title string) fetcher.Fetcher {
	t.Helper()
	return fetcher.FetchFunc(func(_ context.Context, locator string) (*fetcher.Artifact, error) {
		id, ok := ids[locator]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected locator %q", fetcher.ErrFetchFailed, locator)
		}
		path := filepath.Join(dir, id+".mp3")
		if err := os.WriteFile(path, []byte("ID3 fake audio"), 0o644); err != nil {
			return nil, err
		}
		return &fetcher.Artifact{ID: id, Title: title, Path: path, Ext: "mp3", Duration: 212, Uploader: "Rick Astley"}, nil
	})
}

func TestHandle_Delivered(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	m := metrics.New()
	h := NewHandler(msgr, fileFetcher(t, dir, map[string]string{
		"https://youtu.be/dQw4w9WgXcQ": "dQw4w9WgXcQ",
	}, `Rick Astley - Never Gonna Give You Up | "Official" Video?`), WithMetrics(m))

	out := h.Handle(context.Background(), Request{
		ChatID:    7,
		MessageID: 11,
		SenderID:  "42",
		Text:      "  https://youtu.be/dQw4w9WgXcQ \n",
	})

	require.NoError(t, out.Err)
	assert.Equal(t, StateDelivered, out.State)
	assert.Equal(t, []State{StateReceived, StateAcknowledged, StateFetching, StateDelivered}, out.Transitions)
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, "Rick Astley - Never Gonna Give You Up  Official Video.mp3", out.Filename)

	events := msgr.snapshot()
	require.Len(t, events, 5)

	assert.Equal(t, event{kind: "delete", chatID: 7, messageID: 11}, events[0])
	assert.Equal(t, "send", events[1].kind)
	assert.Equal(t, StatusDownloading, events[1].text)
	statusID := events[1].messageID

	assert.Equal(t, "edit", events[2].kind)
	assert.Equal(t, statusID, events[2].messageID)
	assert.Equal(t, StatusSending, events[2].text)

	assert.Equal(t, "audio", events[3].kind)
	assert.True(t, events[3].fileSeen, "file must exist while it is sent")
	assert.Equal(t, "Rick Astley - Never Gonna Give You Up  Official Video.mp3", events[3].audio.Filename)
	assert.Equal(t, "Rick Astley", events[3].audio.Performer)
	assert.Equal(t, 212, events[3].audio.Duration)

	assert.Equal(t, event{kind: "delete", chatID: 7, messageID: statusID}, events[4])

	assert.NoFileExists(t, filepath.Join(dir, "dQw4w9WgXcQ.mp3"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `mp3relay_requests_total{outcome="delivered"} 1`)
	assert.Contains(t, rec.Body.String(), `mp3relay_requests_in_flight 0`)
}

func TestHandle_FetchErrorNeverSendsFile(t *testing.T) {
	msgr := newFakeMessenger()
	h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
		return nil, fmt.Errorf("%w: ERROR: Unsupported URL", fetcher.ErrFetchFailed)
	}))

	out := h.Handle(context.Background(), Request{ChatID: 7, MessageID: 11, Text: "not a link"})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateReceived, StateAcknowledged, StateFetching, StateFailed}, out.Transitions)
	assert.ErrorIs(t, out.Err, fetcher.ErrFetchFailed)
	assert.Equal(t, []string{"delete", "send", "edit"}, msgr.kinds(7))

	last := msgr.snapshot()[2]
	assert.Equal(t, StatusFailed, last.text)
	assert.Equal(t, out.StatusID, last.messageID)
}

func TestHandle_ReportedSuccessWithoutFileFails(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
		return &fetcher.Artifact{ID: "abc", Title: "Ghost", Path: filepath.Join(dir, "abc.mp3"), Ext: "mp3"}, nil
	}))

	out := h.Handle(context.Background(), Request{ChatID: 7, MessageID: 11, Text: "https://youtu.be/abc"})

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, fetcher.ErrFetchFailed)
	assert.NotContains(t, msgr.kinds(7), "audio")
}

func TestHandle_NilArtifactFails(t *testing.T) {
	msgr := newFakeMessenger()
	h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
		return nil, nil
	}))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "x"})
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, fetcher.ErrFetchFailed)
}

func TestHandle_SendAudioErrorStillCleansUp(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	msgr.audErr = errors.New("Bad Request: file is too big")
	h := NewHandler(msgr, fileFetcher(t, dir, map[string]string{"u": "vid1"}, "Song"))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})

	assert.Equal(t, StateFailed, out.State)
	assert.Error(t, out.Err)
	assert.NoFileExists(t, filepath.Join(dir, "vid1.mp3"))
	assert.Equal(t, []string{"delete", "send", "edit", "audio", "edit"}, msgr.kinds(7))
	assert.Equal(t, StatusFailed, msgr.snapshot()[4].text)
}

func TestHandle_TooLargeIsFailure(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	h := NewHandler(msgr, fileFetcher(t, dir, map[string]string{"u": "big"}, "Long Mix"), WithMaxUploadBytes(4))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrTooLarge)
	assert.NotContains(t, msgr.kinds(7), "audio")
	assert.NoFileExists(t, filepath.Join(dir, "big.mp3"))
}

func TestHandle_EditFailureFallsBackToNewMessage(t *testing.T) {
	msgr := newFakeMessenger()
	msgr.editErr = errors.New("Bad Request: message to edit not found")
	h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
		return nil, fetcher.ErrFetchFailed
	}))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "x"})

	assert.Equal(t, StateFailed, out.State)
	events := msgr.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "send", events[2].kind)
	assert.Equal(t, StatusFailed, events[2].text)
	assert.Equal(t, events[2].messageID, out.StatusID)
}

func TestHandle_NoStatusMessageStillCompletes(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	msgr.sendErr = errors.New("Forbidden: bot was blocked by the user")
	h := NewHandler(msgr, fileFetcher(t, dir, map[string]string{"u": "vid2"}, "Song"))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})

	assert.Equal(t, StateDelivered, out.State)
	assert.Zero(t, out.StatusID)
	assert.Equal(t, []string{"delete", "audio"}, msgr.kinds(7))
	assert.NoFileExists(t, filepath.Join(dir, "vid2.mp3"))
}

func TestHandle_EmptyTitleFallsBackToID(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()
	h := NewHandler(msgr, fileFetcher(t, dir, map[string]string{"u": "vid3"}, `???`))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})

	assert.Equal(t, StateDelivered, out.State)
	assert.Equal(t, "vid3.mp3", out.Filename)
}

func TestHandle_ConcurrentRequestsDoNotCollide(t *testing.T) {
	dir := t.TempDir()
	msgr := newFakeMessenger()

	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)
	inner := fileFetcher(t, dir, map[string]string{"a": "idA", "b": "idB"}, "Track")
	f := fetcher.FetchFunc(func(ctx context.Context, locator string) (*fetcher.Artifact, error) {
		arrived.Done()
		<-release
		return inner.Fetch(ctx, locator)
	})
	h := NewHandler(msgr, f)

	outs := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i, req := range []Request{{ChatID: 1, MessageID: 10, Text: "a"}, {ChatID: 2, MessageID: 20, Text: "b"}} {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			outs[i] = h.Handle(context.Background(), req)
		}(i, req)
	}
	arrived.Wait()
	close(release)
	wg.Wait()

	require.Equal(t, StateDelivered, outs[0].State)
	require.Equal(t, StateDelivered, outs[1].State)
	assert.NotEqual(t, outs[0].RequestID, outs[1].RequestID)
	assert.NotEqual(t, outs[0].StatusID, outs[1].StatusID)

	for i, chatID := range []int64{1, 2} {
		var statusID int
		for _, e := range msgr.snapshot() {
			if e.chatID != chatID {
				continue
			}
			switch e.kind {
			case "send":
				statusID = e.messageID
			case "edit":
				assert.Equal(t, statusID, e.messageID, "chat %d edited a foreign status message", chatID)
			case "audio":
				assert.True(t, e.fileSeen)
				assert.Equal(t, outs[i].Artifact.Path, e.audio.Path)
			}
		}
		assert.Equal(t, outs[i].StatusID, statusID)
	}

	assert.NotEqual(t, outs[0].Artifact.Path, outs[1].Artifact.Path)
	assert.NoFileExists(t, filepath.Join(dir, "idA.mp3"))
	assert.NoFileExists(t, filepath.Join(dir, "idB.mp3"))
}

func TestHandle_NonAudioArtifactFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vid4.webm")
	require.NoError(t, os.WriteFile(path, []byte("not audio"), 0o644))

	msgr := newFakeMessenger()
	h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
		return &fetcher.Artifact{ID: "vid4", Title: "Clip", Path: path, Ext: "mp3"}, nil
	}))

	out := h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, fetcher.ErrFetchFailed)
	assert.NotContains(t, msgr.kinds(7), "audio")
	assert.NoFileExists(t, path)
}

func TestHandle_RemovesScratchDir(t *testing.T) {
	for name, sendErr := range map[string]error{
		"delivered": nil,
		"failed":    errors.New("Bad Request: wrong file"),
	} {
		t.Run(name, func(t *testing.T) {
			scratch := filepath.Join(t.TempDir(), ".fetch-1")
			require.NoError(t, os.Mkdir(scratch, 0o755))
			path := filepath.Join(scratch, "vid5.mp3")
			require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o644))

			msgr := newFakeMessenger()
			msgr.audErr = sendErr
			h := NewHandler(msgr, fetcher.FetchFunc(func(context.Context, string) (*fetcher.Artifact, error) {
				return &fetcher.Artifact{ID: "vid5", Title: "Song", Path: path, Dir: scratch, Ext: "mp3"}, nil
			}))

			h.Handle(context.Background(), Request{ChatID: 7, Text: "u"})
			assert.NoDirExists(t, scratch)
		})
	}
}

func TestHandle_SameVideoForTwoUsers(t *testing.T) {
	work := t.TempDir()
	msgr := newFakeMessenger()

	release := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)
	var mu sync.Mutex
	n := 0
	f := fetcher.FetchFunc(func(ctx context.Context, locator string) (*fetcher.Artifact, error) {
		mu.Lock()
		n++
		scratch := filepath.Join(work, fmt.Sprintf(".fetch-%d", n))
		mu.Unlock()
		if err := os.Mkdir(scratch, 0o755); err != nil {
			return nil, err
		}
		path := filepath.Join(scratch, "same.mp3")
		if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
			return nil, err
		}
		arrived.Done()
		<-release
		return &fetcher.Artifact{ID: "same", Title: "Hit", Path: path, Dir: scratch, Ext: "mp3"}, nil
	})
	h := NewHandler(msgr, f)

	outs := make([]Outcome, 2)
	var wg sync.WaitGroup
	for i, chatID := range []int64{1, 2} {
		wg.Add(1)
		go func(i int, chatID int64) {
			defer wg.Done()
			outs[i] = h.Handle(context.Background(), Request{ChatID: chatID, Text: "https://youtu.be/same"})
		}(i, chatID)
	}
	arrived.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, StateDelivered, outs[0].State)
	assert.Equal(t, StateDelivered, outs[1].State)
	for _, e := range msgr.snapshot() {
		if e.kind == "audio" {
			assert.True(t, e.fileSeen)
		}
	}
}
