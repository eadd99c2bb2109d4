package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type findNoteResponse struct {
	Found bool   `json:"found"`
	URL   string `json:"url"`
}

type createNoteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type createNoteResponse struct {
	NoteID string `json:"note_id"`
	URL    string `json:"url"`
}

type attachLabelRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NoteStoreClient talks to the external note-taking service that backs
// dedup checks and final publish (§4.5 steps 1 and 4).
type NoteStoreClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewNoteStoreClient builds a client against baseURL. timeout bounds a
// single call (§4.2/§8: 30s).
func NewNoteStoreClient(baseURL, apiKey string, timeout time.Duration) *NoteStoreClient {
	return &NoteStoreClient{baseURL: baseURL, apiKey: apiKey, client: newClient(timeout)}
}

// FindByLabel looks up an existing note tagged with source_id=identifier.
func (c *NoteStoreClient) FindByLabel(ctx context.Context, identifier string) (string, bool, error) {
	reqURL := fmt.Sprintf("%s/v1/notes?label=source_id:%s", c.baseURL, url.QueryEscape(identifier))
	var resp findNoteResponse
	err := doJSON(ctx, c.client, "notestore.find", http.MethodGet, reqURL, nil, &resp, func(r *http.Request) {
		setBearer(r, c.apiKey)
	})
	if err != nil {
		return "", false, err
	}
	return resp.URL, resp.Found, nil
}

// CreateNote creates a note with the given title and body.
func (c *NoteStoreClient) CreateNote(ctx context.Context, title, body string) (noteID, noteURL string, err error) {
	req := createNoteRequest{Title: title, Body: body}
	var resp createNoteResponse
	err = doJSON(ctx, c.client, "notestore.create", http.MethodPost, c.baseURL+"/v1/notes", req, &resp, func(r *http.Request) {
		setBearer(r, c.apiKey)
	})
	if err != nil {
		return "", "", err
	}
	return resp.NoteID, resp.URL, nil
}

// AttachLabel attaches a source_id label to an existing note.
func (c *NoteStoreClient) AttachLabel(ctx context.Context, noteID, identifier string) error {
	req := attachLabelRequest{Name: "source_id", Value: identifier}
	url := fmt.Sprintf("%s/v1/notes/%s/labels", c.baseURL, noteID)
	return doJSON(ctx, c.client, "notestore.attach_label", http.MethodPost, url, req, nil, func(r *http.Request) {
		setBearer(r, c.apiKey)
	})
}
