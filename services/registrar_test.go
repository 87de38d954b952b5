package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"audio-converter/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func newTestRegistrar(rt roundTripFunc) *RegistrarService {
	svc := NewRegistrarService(RegistrationTarget{
		URL:         "http://spaces.invalid/spaces/text_to_space/",
		Token:       "reg-token",
		WorkspaceID: "ws-1",
		OrgID:       "org-1",
		BoardID:     "board-1",
	})
	svc.client.Transport = rt
	return svc
}

func TestRegisterSendsPayload(t *testing.T) {
	t.Parallel()

	svc := newTestRegistrar(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/spaces/text_to_space/" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer reg-token" {
			t.Fatalf("authorization = %q", r.Header.Get("Authorization"))
		}
		var got map[string]string
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		want := map[string]string{
			"file_name":    "standup.txt",
			"url":          "https://files/standup.txt",
			"workspace_id": "ws-1",
			"org_id":       "org-1",
			"uid":          "user-9",
			"board_id":     "board-1",
		}
		for k, v := range want {
			if got[k] != v {
				t.Fatalf("%s = %q, want %q", k, got[k], v)
			}
		}
		return jsonResponse(http.StatusOK, `{"document":{"id":"doc-123","title":"x"}}`), nil
	})

	id, err := svc.Register(context.Background(), Registration{
		URL:      "https://files/standup.txt",
		FileName: "standup.txt",
		OwnerID:  "user-9",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "doc-123" {
		t.Fatalf("id = %q", id)
	}
}

func TestRegisterNumericDocumentID(t *testing.T) {
	t.Parallel()

	svc := newTestRegistrar(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusCreated, `{"document":{"id":4815}}`), nil
	})

	id, err := svc.Register(context.Background(), Registration{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "4815" {
		t.Fatalf("id = %q", id)
	}
}

func TestRegisterMissingDocumentID(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{}`, `{"document":{}}`, `{"document":{"id":""}}`, `{"document":{"id":null}}`} {
		svc := newTestRegistrar(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, body), nil
		})
		_, err := svc.Register(context.Background(), Registration{})
		if models.KindOf(err) != models.KindRegistration {
			t.Fatalf("body %s: expected registration error, got %v", body, err)
		}
	}
}

func TestRegisterNonSuccessStatus(t *testing.T) {
	t.Parallel()

	svc := newTestRegistrar(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"detail":"token expired"}`), nil
	})

	_, err := svc.Register(context.Background(), Registration{})
	if models.KindOf(err) != models.KindRegistration {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestRegisterTransportFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	svc := newTestRegistrar(func(r *http.Request) (*http.Response, error) {
		return nil, cause
	})

	_, err := svc.Register(context.Background(), Registration{})
	if models.KindOf(err) != models.KindRegistration || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped registration error, got %v", err)
	}
}
