package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/agent-playground/internal/playground"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	path, err := Expand(EndpointChat, map[string]string{"clientId": "c 1", "chatId": "42"})
	require.NoError(t, err)
	assert.Equal(t, "/clients/c%201/chats/42", path)

	_, err = Expand(EndpointChat, map[string]string{"clientId": "c1"})
	assert.ErrorContains(t, err, "chatId")
}

func TestUnwrapEnvelopes(t *testing.T) {
	data, err := unwrap(200, []byte(`{"statusCode":200,"data":{"id":"a"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(data))

	data, err = unwrap(200, []byte(`{"success":true,"data":[1,2]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(data))

	_, err = unwrap(200, []byte(`{"success":false,"error":"quota exceeded"}`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "quota exceeded", apiErr.Message)

	_, err = unwrap(200, []byte(`{"statusCode":404,"message":"no agent"}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)

	data, err = unwrap(200, []byte(`[{"id":"x"}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x"}]`, string(data))

	_, err = unwrap(502, []byte(`bad gateway`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestGetAgentAndSave(t *testing.T) {
	var saved playground.Agent
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/agents/A1", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"statusCode":200,"data":{"id":"A1","name":"Bot","config":{"tone":"warm"},"training_data":[{"id":"t1"},{"id":"t2"}]}}`)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&saved))
			_, _ = io.WriteString(w, `{"success":true}`)
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	agent, err := client.GetAgent(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "Bot", agent.Name)
	assert.Len(t, agent.TrainingData, 2)
	assert.Equal(t, "warm", agent.Config["tone"])

	agent.RemoveTraining(map[string]struct{}{"t1": {}})
	require.NoError(t, client.SaveAgent(context.Background(), agent))
	assert.Equal(t, []playground.TrainingEntry{{ID: "t2"}}, saved.TrainingData)

	assert.Error(t, client.SaveAgent(context.Background(), &playground.Agent{}))
}

func TestSaveAgentKeepsUnmodelledFields(t *testing.T) {
	var put []byte
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"statusCode":200,"data":{"id":"A1","status":"active","channels":["web"],`+
				`"config":{"whatsapp":{"phone_number_id":123456789012345678}},`+
				`"training_data":[{"id":"t1","type":"url","word_count":3,"url":"https://x.io","training_ids":["v1"]},{"id":"t2"}]}}`)
		case http.MethodPut:
			var err error
			put, err = io.ReadAll(r.Body)
			require.NoError(t, err)
			_, _ = io.WriteString(w, `{"success":true}`)
		}
	})

	agent, err := client.GetAgent(context.Background(), "A1")
	require.NoError(t, err)
	agent.RemoveTraining(map[string]struct{}{"t2": {}})
	require.NoError(t, client.SaveAgent(context.Background(), agent))

	assert.JSONEq(t, `{"id":"A1","status":"active","channels":["web"],`+
		`"config":{"whatsapp":{"phone_number_id":123456789012345678}},`+
		`"training_data":[{"id":"t1","type":"url","word_count":3,"url":"https://x.io","training_ids":["v1"]}]}`, string(put))
	assert.Contains(t, string(put), "123456789012345678")
	assert.NotContains(t, string(put), "0001-01-01")
}

func TestDeleteContentBatch(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/scraped-content/batch-delete", r.URL.Path)
		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"r1", "r2"}, body.IDs)
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	require.NoError(t, client.DeleteContent(context.Background(), []string{"r1", "r2"}))
	require.NoError(t, client.DeleteContent(context.Background(), nil))
	assert.Equal(t, 1, calls)
}

func TestListContentWithJobFilter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/A1/scraped-content", r.URL.Path)
		assert.Equal(t, "job-9", r.URL.Query().Get("jobId"))
		_, _ = io.WriteString(w, `{"success":true,"data":[{"id":"r1","agent_id":"A1","scraping_status":true,"training_ids":["t1"]}]}`)
	})

	records, err := client.ListContent(context.Background(), "A1", "job-9")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].ScrapingStatus)
	assert.Equal(t, []string{"t1"}, records[0].TrainingIDs)
}

func TestChatsAndWebhooks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/clients/c1/chats":
			_, _ = io.WriteString(w, `{"statusCode":200,"data":[{"id":"ch1","client_id":"c1"}]}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/clients/c1/chats/ch1":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/clients/c1/webhooks":
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":"wh1","url":"https://hook.example.com"}}`)
		case r.Method == http.MethodDelete && r.URL.Path == "/clients/c1/webhooks/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"webhook not found"}`)
		default:
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	chats, err := client.ListChats(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	require.NoError(t, client.DeleteChat(ctx, "c1", "ch1"))

	hook, err := client.RegisterWebhook(ctx, Webhook{ClientID: "c1", URL: "https://hook.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "wh1", hook.ID)

	_, err = client.RegisterWebhook(ctx, Webhook{ClientID: "c1"})
	assert.Error(t, err)

	err = client.DeleteWebhook(ctx, "c1", "missing")
	assert.True(t, IsNotFound(err))
	assert.ErrorContains(t, err, "webhook not found")
}

func TestAPIErrorMatchesNotFound(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &APIError{Method: http.MethodGet, Path: "/content/x", StatusCode: http.StatusNotFound})
	assert.True(t, errors.Is(err, playground.ErrNotFound))
	assert.True(t, IsNotFound(err))

	other := &APIError{Method: http.MethodGet, Path: "/content/x", StatusCode: http.StatusBadGateway}
	assert.False(t, errors.Is(other, playground.ErrNotFound))
}
