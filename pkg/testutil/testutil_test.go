package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestServer() *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tables/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("id")})
	})

	mux.HandleFunc("POST /api/tables", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		body["id"] = "tbl_000001"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("DELETE /api/tables/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /whoami", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"authorization": r.Header.Get("Authorization")})
	})

	mux.HandleFunc("POST /api/sms/inbound", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"body": r.Form.Get("Body"), "sig": r.Header.Get("X-Twilio-Signature")})
	})

	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name": hdr.Filename, "type": hdr.Header.Get("Content-Type"), "size": len(data),
		})
	})

	mux.HandleFunc("GET /oops", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"slot unavailable","type":"conflict","code":409}}`))
	})

	mux.HandleFunc("GET /admin/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /admin/time/advance", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"duration": body["duration"]})
	})

	return httptest.NewServer(mux)
}

func TestAPIClientCRUD(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	c := NewAPIClient(t, srv)

	created := c.Post("/api/tables", map[string]any{"name": "Window", "seats": 4}).AssertStatus(http.StatusCreated).JSONMap()
	if created["id"] != "tbl_000001" || created["name"] != "Window" {
		t.Errorf("unexpected create response: %+v", created)
	}

	c.Get("/api/tables/tbl_000001").AssertStatus(http.StatusOK).AssertBodyContains("tbl_000001")
	c.Delete("/api/tables/tbl_000001").AssertStatus(http.StatusNoContent)
}

func TestWithTokenSetsBearer(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	c := NewAPIClient(t, srv)

	if got := c.Get("/whoami").JSONMap()["authorization"]; got != "" {
		t.Errorf("expected no authorization header, got %v", got)
	}
	staff := c.WithToken("tok_123")
	if got := staff.Get("/whoami").JSONMap()["authorization"]; got != "Bearer tok_123" {
		t.Errorf("authorization = %v", got)
	}
	if c.Token != "" {
		t.Error("WithToken must not mutate the original client")
	}
}

func TestPostFormWithHeaders(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	c := NewAPIClient(t, srv)

	m := c.PostForm("/api/sms/inbound", url.Values{"Body": {"see you at 8 & thanks"}},
		map[string]string{"X-Twilio-Signature": "abc"}).AssertStatus(http.StatusOK).JSONMap()
	if m["body"] != "see you at 8 & thanks" || m["sig"] != "abc" {
		t.Errorf("unexpected echo: %+v", m)
	}
}

func TestUpload(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	c := NewAPIClient(t, srv)

	m := c.Upload("/upload", "receipt.pdf", "application/pdf", []byte("%PDF-1.4")).AssertStatus(http.StatusOK).JSONMap()
	if m["name"] != "receipt.pdf" || m["type"] != "application/pdf" || m["size"] != float64(8) {
		t.Errorf("unexpected upload echo: %+v", m)
	}
}

func TestErrorMessage(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	c := NewAPIClient(t, srv)

	resp := c.Get("/oops").AssertStatus(http.StatusConflict)
	if msg := resp.ErrorMessage(); msg != "slot unavailable" {
		t.Errorf("ErrorMessage() = %q", msg)
	}
}

func TestAdminClient(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()
	ac := NewAdminClient(NewAPIClient(t, srv))

	ac.Health().AssertStatus(http.StatusOK).AssertBodyContains("ok")
	if got := ac.AdvanceTime("2h").JSONMap()["duration"]; got != "2h" {
		t.Errorf("duration echo = %v", got)
	}
}
