package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, RequestTimeout: 2 * time.Second}, nil)
	return client, srv
}

func TestSendChat(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, "session-1", body["sessionId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hi there","sequenceUpdate":{"role":"Nurses","steps":[]}}`))
	})

	client, _ := newTestClient(t, r)

	resp, err := client.SendChat(context.Background(), "session-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Response)
	assert.JSONEq(t, `{"role":"Nurses","steps":[]}`, string(resp.SequenceUpdate))
}

func TestServerErrorCarriesStatusAndMessage(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"backend exploded"}`))
	})

	client, _ := newTestClient(t, r)

	_, err := client.SendChat(context.Background(), "session-1", "hello")
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusInternalServerError, srvErr.Status)
	assert.Equal(t, "backend exploded", srvErr.Message)
}

func TestTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, RequestTimeout: 50 * time.Millisecond}, nil)

	_, err := client.SendChat(context.Background(), "session-1", "hello")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNetworkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := New(Config{BaseURL: srv.URL, RequestTimeout: time.Second}, nil)

	_, err := client.SendChat(context.Background(), "session-1", "hello")
	assert.ErrorIs(t, err, ErrNetworkUnreachable)
}

func TestMalformedResponse(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`this is not json`))
	})

	client, _ := newTestClient(t, r)

	_, err := client.SendChat(context.Background(), "session-1", "hello")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestListSequences(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/sequence/all/{sessionID}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "session-1", chi.URLParam(req, "sessionID"))
		_, _ = w.Write([]byte(`{"sequences":[{"role":"Nurses","steps":[]}]}`))
	})

	client, _ := newTestClient(t, r)

	raw, err := client.ListSequences(context.Background(), "session-1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"Nurses","steps":[]}]`, string(raw))
}

func TestAddStepSendsWireShape(t *testing.T) {
	var got map[string]json.RawMessage
	r := chi.NewRouter()
	r.Post("/sequence/{sessionID}/step", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	client, _ := newTestClient(t, r)

	stepType := "email"
	subject := "Opportunity"
	body := "hello"
	delay := 2
	err := client.AddStep(context.Background(), "session-1", "Nurses", StepRequest{
		StepType: &stepType,
		Subject:  &subject,
		Body:     &body,
		Delay:    &delay,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `"Nurses"`, string(got["role"]))
	assert.JSONEq(t, `{"step_type":"email","subject":"Opportunity","body":"hello","delay":2}`, string(got["step_data"]))
}

func TestUpdateStepOmitsAbsentFields(t *testing.T) {
	var got map[string]json.RawMessage
	r := chi.NewRouter()
	r.Put("/sequence/{sessionID}/step/{stepID}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "step-1", chi.URLParam(req, "stepID"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	client, _ := newTestClient(t, r)

	body := "updated"
	err := client.UpdateStep(context.Background(), "session-1", "step-1", StepRequest{Body: &body})
	require.NoError(t, err)
	assert.JSONEq(t, `{"body":"updated"}`, string(got["updates"]))
}

func TestDeleteStepAndSequence(t *testing.T) {
	r := chi.NewRouter()
	r.Delete("/sequence/{sessionID}/step/{stepID}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	r.Delete("/sequence/{sessionID}/role/{role}", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Nurses", chi.URLParam(req, "role"))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	client, _ := newTestClient(t, r)

	require.NoError(t, client.DeleteStep(context.Background(), "session-1", "step-1"))
	require.NoError(t, client.DeleteSequence(context.Background(), "session-1", "Nurses"))
}

func TestCreateSessionRestores(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/user/session", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "session-1", body["sessionId"])
		_, _ = w.Write([]byte(`{"data":{"sessionId":"session-1","sequences":[{"role":"Nurses","steps":[]}]}}`))
	})

	client, _ := newTestClient(t, r)

	data, err := client.CreateSession(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.Equal(t, "session-1", data.SessionID)
	assert.NotEmpty(t, data.Sequences)
}

func TestCreateSessionKeepsLocalIDWhenMissing(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/user/session", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	client, _ := newTestClient(t, r)

	data, err := client.CreateSession(context.Background(), "session-1", "")
	require.NoError(t, err)
	assert.Equal(t, "session-1", data.SessionID)
}

func TestListUserSessionsFallsBackToPost(t *testing.T) {
	r := chi.NewRouter()
	// No GET route: chi answers 405 for the path, which triggers the POST
	// variant.
	r.Post("/user/sessions/email", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "a@b.co", body["email"])
		_, _ = w.Write([]byte(`{"success":true,"data":{"sessions":[{"sessionId":"s1"},{"sessionId":"s2"}]}}`))
	})

	client, _ := newTestClient(t, r)

	sessions, err := client.ListUserSessions(context.Background(), "a@b.co")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s1", sessions[0].SessionID)
}

func TestListUserSessionsGet(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/user/sessions/{email}", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"sessions":[{"sessionId":"s1"}]}}`))
	})

	client, _ := newTestClient(t, r)

	sessions, err := client.ListUserSessions(context.Background(), "a@b.co")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestRegisterEmailFailureSurfaces(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/user/register", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"email taken"}`))
	})

	client, _ := newTestClient(t, r)

	err := client.RegisterEmail(context.Background(), "session-1", "a@b.co")
	var srvErr *ServerError
	require.True(t, errors.As(err, &srvErr))
	assert.Equal(t, "email taken", srvErr.Message)
}

func TestExportAndImport(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/user/session/{sessionID}/export", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"sequences":[]}}`))
	})
	r.Post("/user/session/import", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":{"sequences":[{"role":"Nurses","steps":[]}]}}`))
	})

	client, _ := newTestClient(t, r)

	data, err := client.ExportSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequences":[]}`, string(data))

	sequences, err := client.ImportSession(context.Background(), "session-1", data)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"Nurses","steps":[]}]`, string(sequences))
}

func TestRecoverSession(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/user/recover", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"found":true,"sessionId":"s2","data":{"sequences":[]}}`))
	})

	client, _ := newTestClient(t, r)

	result, err := client.RecoverSession(context.Background(), "a@b.co", "s2")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, "s2", result.SessionID)
}
