// Package relay sequences one download request: acknowledge, fetch and
// transcode, deliver the artifact, clean up.
package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/sipeed/mp3relay/pkg/fetcher"
	"github.com/sipeed/mp3relay/pkg/logger"
	"github.com/sipeed/mp3relay/pkg/media"
	"github.com/sipeed/mp3relay/pkg/metrics"
	"github.com/sipeed/mp3relay/pkg/utils"
)

const (
	UsageText         = "Send me a YouTube link and I will convert it to MP3."
	StatusDownloading = "Downloading audio... Please wait."
	StatusSending     = "Download complete! Sending audio..."
	StatusFailed      = "An error occurred while downloading the audio."

	// DefaultMaxUploadBytes is the Bot API limit for files sent by bots.
	DefaultMaxUploadBytes int64 = 50 << 20
)

// ErrTooLarge marks an artifact the chat platform would refuse.
var ErrTooLarge = errors.New("artifact exceeds upload limit")

// Audio is an attachment to deliver.
type Audio struct {
	// Path is the local file to upload.
	Path string
	// Filename is the name shown to the user.
	Filename  string
	Title     string
	Performer string
	// Duration in seconds, 0 when unknown.
	Duration int
}

// Messenger is the chat side of a request.
type Messenger interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	SendAudio(ctx context.Context, chatID int64, audio Audio) error
}

// Request is one inbound non-command text message.
type Request struct {
	ID        string // generated when empty
	ChatID    int64
	MessageID int
	SenderID  string
	Text      string
}

// Outcome summarizes a finished request.
type Outcome struct {
	RequestID   string
	State       State
	Transitions []State
	Artifact    *fetcher.Artifact
	Filename    string
	StatusID    int
	Err         error
}

type Handler struct {
	messenger      Messenger
	fetcher        fetcher.Fetcher
	store          media.MediaStore
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

type Option func(*Handler)

func WithStore(store media.MediaStore) Option {
	return func(h *Handler) { h.store = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxUploadBytes sets the largest artifact that will be sent; 0 disables the check.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) { h.maxUploadBytes = n }
}

func NewHandler(messenger Messenger, f fetcher.Fetcher, opts ...Option) *Handler {
	h := &Handler{
		messenger:      messenger,
		fetcher:        f,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = media.NewFileMediaStore()
	}
	return h
}

// run carries the mutable state of a single request.
type run struct {
	h        *Handler
	req      Request
	art      *fetcher.Artifact
	statusID int
	out      Outcome
}

func (r *run) advance(to State) {
	if !r.out.State.CanTransition(to) {
		// Programming error; keep the request terminal rather than looping.
		logger.ErrorCF("relay", "Invalid state transition", map[string]any{
			"request_id": r.req.ID,
			"from":       r.out.State.String(),
			"to":         to.String(),
		})
		return
	}
	r.out.State = to
	r.out.Transitions = append(r.out.Transitions, to)
}

// Handle runs req to a terminal state. Errors never escape; they are
// reported to the user and recorded in the Outcome.
func (h *Handler) Handle(ctx context.Context, req Request) Outcome {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r := &run{
		h:   h,
		req: req,
		out: Outcome{
			RequestID:   req.ID,
			State:       StateReceived,
			Transitions: []State{StateReceived},
		},
	}
	defer h.metrics.TrackInFlight()()

	locator := strings.TrimSpace(req.Text)
	logger.InfoCF("relay", "Request received", map[string]any{
		"request_id": req.ID,
		"chat_id":    req.ChatID,
		"sender_id":  req.SenderID,
		"locator":    utils.Truncate(locator, 80),
	})

	if err := h.messenger.DeleteMessage(ctx, req.ChatID, req.MessageID); err != nil {
		logger.WarnCF("relay", "Failed to delete request message", map[string]any{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}

	statusID, err := h.messenger.SendText(ctx, req.ChatID, StatusDownloading)
	if err != nil {
		logger.WarnCF("relay", "Failed to post status message", map[string]any{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}
	r.statusID = statusID
	r.out.StatusID = statusID
	r.advance(StateAcknowledged)

	r.advance(StateFetching)
	start := time.Now()
	art, err := h.fetcher.Fetch(ctx, locator)
	h.metrics.ObserveFetch(time.Since(start), err == nil)
	if err != nil {
		return r.fail(ctx, err)
	}
	if art == nil {
		return r.fail(ctx, fmt.Errorf("%w: tool returned no artifact", fetcher.ErrFetchFailed))
	}
	r.out.Artifact = art

	return r.deliver(ctx, art)
}

func (r *run) deliver(ctx context.Context, art *fetcher.Artifact) Outcome {
	h := r.h
	scope := "request:" + r.req.ID
	r.art = art
	defer r.release(scope)

	ext := art.Ext
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(art.Path), ".")
	}
	filename := utils.AttachmentName(art.Title, art.ID, ext)
	r.out.Filename = filename

	// Store re-checks presence, so a reported success without a file fails here.
	ref, err := h.store.Store(art.Path, media.MediaMeta{
		Filename:    filename,
		ContentType: "audio/" + ext,
		Source:      art.ID,
	}, scope)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %v", fetcher.ErrFetchFailed, err))
	}

	path, meta, err := h.store.Resolve(ref)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %v", fetcher.ErrFetchFailed, err))
	}
	if !utils.IsAudioFile(path) {
		return r.fail(ctx, fmt.Errorf("%w: not an audio file: %s", fetcher.ErrFetchFailed, filepath.Base(path)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %v", fetcher.ErrFetchFailed, err))
	}
	if h.maxUploadBytes > 0 && info.Size() > h.maxUploadBytes {
		return r.fail(ctx, fmt.Errorf("%w: %s over %s", ErrTooLarge,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(h.maxUploadBytes))))
	}

	r.setStatus(ctx, StatusSending)

	err = h.messenger.SendAudio(ctx, r.req.ChatID, Audio{
		Path:      path,
		Filename:  meta.Filename,
		Title:     art.Title,
		Performer: art.Uploader,
		Duration:  art.Duration,
	})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("send audio: %w", err))
	}
	h.metrics.RecordDeliveredBytes(info.Size())

	r.release(scope)

	if r.statusID != 0 {
		if err := h.messenger.DeleteMessage(ctx, r.req.ChatID, r.statusID); err != nil {
			logger.WarnCF("relay", "Failed to delete status message", map[string]any{
				"request_id": r.req.ID,
				"error":      err.Error(),
			})
		}
	}

	r.advance(StateDelivered)
	h.metrics.RecordRequest(StateDelivered.String())
	logger.InfoCF("relay", "Audio delivered", map[string]any{
		"request_id": r.req.ID,
		"id":         art.ID,
		"filename":   filename,
		"size":       humanize.IBytes(uint64(info.Size())),
	})
	return r.out
}

func (r *run) fail(ctx context.Context, err error) Outcome {
	logger.ErrorCF("relay", "An error occurred while downloading the audio", map[string]any{
		"request_id": r.req.ID,
		"chat_id":    r.req.ChatID,
		"error":      err.Error(),
	})

	r.setStatus(ctx, StatusFailed)
	r.out.Err = err
	r.advance(StateFailed)
	r.h.metrics.RecordRequest(StateFailed.String())
	return r.out
}

// setStatus edits the status message in place, falling back to a new
// message when there is none or the edit is rejected.
func (r *run) setStatus(ctx context.Context, text string) {
	h := r.h
	if r.statusID != 0 {
		err := h.messenger.EditText(ctx, r.req.ChatID, r.statusID, text)
		if err == nil {
			return
		}
		logger.WarnCF("relay", "Failed to edit status message, sending a new one", map[string]any{
			"request_id": r.req.ID,
			"error":      err.Error(),
		})
	}

	id, err := h.messenger.SendText(ctx, r.req.ChatID, text)
	if err != nil {
		logger.ErrorCF("relay", "Failed to send status message", map[string]any{
			"request_id": r.req.ID,
			"error":      err.Error(),
		})
		return
	}
	r.statusID = id
	r.out.StatusID = id
}

func (r *run) release(scope string) {
	if err := r.h.store.ReleaseAll(scope); err != nil {
		logger.WarnCF("relay", "Failed to clean up artifact", map[string]any{
			"request_id": r.req.ID,
			"error":      err.Error(),
		})
	}
	if r.art == nil || r.art.Dir == "" {
		return
	}
	if err := os.RemoveAll(r.art.Dir); err != nil {
		logger.WarnCF("relay", "Failed to remove scratch directory", map[string]any{
			"request_id": r.req.ID,
			"dir":        r.art.Dir,
			"error":      err.Error(),
		})
	}
}
