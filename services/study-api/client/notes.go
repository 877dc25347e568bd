package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/autosave"
)

// NotesClient talks to the notes and auth endpoints of a running server. It
// keeps the session cookie between calls.
type NotesClient struct {
	baseURL string
	http    *http.Client
}

func NewNotesClient(baseURL string, timeout time.Duration) (*NotesClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NotesClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

// Login signs in and stores the session cookie for later calls.
func (c *NotesClient) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return c.do(ctx, http.MethodPost, "/auth/login", body, nil)
}

// GetNotes loads the notes for videoURL. No record yields "".
func (c *NotesClient) GetNotes(ctx context.Context, videoURL string) (string, error) {
	var resp struct {
		Notes string `json:"notes"`
	}
	path := "/video/notes?videoUrl=" + url.QueryEscape(videoURL)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Notes, nil
}

// SaveNotes overwrites the notes for videoURL.
func (c *NotesClient) SaveNotes(ctx context.Context, videoURL, notes string) error {
	body := map[string]string{"videoUrl": videoURL, "notes": notes}
	return c.do(ctx, http.MethodPost, "/video/notes", body, nil)
}

// Saver binds the client to one video for an autosave.Controller.
func (c *NotesClient) Saver(videoURL string) autosave.Saver {
	return autosave.SaverFunc(func(ctx context.Context, content string) error {
		return c.SaveNotes(ctx, videoURL, content)
	})
}

func (c *NotesClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Unavailable("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return statusError(resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return apperr.InvalidInput(msg)
	case http.StatusUnauthorized:
		return apperr.Unauthorized(msg)
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusConflict:
		return apperr.Conflict(msg)
	default:
		return &apperr.Error{Code: apperr.CodeUnavailable, Status: status, Message: msg}
	}
}
