// internal/whatsapp/client_test.go
package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/zapfy/broadcast-backend/internal/errors"
	"github.com/zapfy/broadcast-backend/internal/model"
)

func testInstance() *model.Instance {
	return &model.Instance{
		ID:            "inst-1",
		PhoneNumberID: "105551234567890",
		AccessToken:   "token-123",
	}
}

func testRequest() *SendRequest {
	return &SendRequest{
		To:           "5511999990001",
		TemplateName: "order_update",
		Language:     "en_US",
		BodyValues:   []string{"Hello", "Lisbon"},
		ButtonValues: []model.ButtonValue{{Index: 0, Value: "SAVE20"}},
	}
}

func TestSendBuildsGraphPayload(t *testing.T) {
	var captured map[string]any
	var gotPath, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.abc"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	res, err := client.Send(context.Background(), testInstance(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "wamid.abc", res.MessageID)
	assert.False(t, res.SentAt.IsZero())

	assert.Equal(t, "/105551234567890/messages", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)

	assert.Equal(t, "whatsapp", captured["messaging_product"])
	assert.Equal(t, "individual", captured["recipient_type"])
	assert.Equal(t, "5511999990001", captured["to"])
	assert.Equal(t, "template", captured["type"])

	tpl := captured["template"].(map[string]any)
	assert.Equal(t, "order_update", tpl["name"])
	assert.Equal(t, "en_US", tpl["language"].(map[string]any)["code"])

	components := tpl["components"].([]any)
	require.Len(t, components, 2)

	body := components[0].(map[string]any)
	assert.Equal(t, "body", body["type"])
	params := body["parameters"].([]any)
	require.Len(t, params, 2)
	assert.Equal(t, "Hello", params[0].(map[string]any)["text"])
	assert.Equal(t, "Lisbon", params[1].(map[string]any)["text"])

	button := components[1].(map[string]any)
	assert.Equal(t, "button", button["type"])
	assert.Equal(t, "url", button["sub_type"])
	assert.Equal(t, "0", button["index"])
}

func TestSendOmitsComponentsWithoutParams(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.abc"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), &SendRequest{
		To: "5511999990001", TemplateName: "plain", Language: "en_US",
	})
	require.NoError(t, err)

	tpl := captured["template"].(map[string]any)
	_, hasComponents := tpl["components"]
	assert.False(t, hasComponents)
}

func TestSendGraphErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "template not found", "code": 132001},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), testRequest())
	de, ok := appErrors.AsDispatch(err)
	require.True(t, ok)
	assert.False(t, de.Transient)
	assert.Equal(t, "132001", de.Code)
	assert.Equal(t, "template not found", de.Desc)
}

func TestSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), testRequest())
	de, ok := appErrors.AsDispatch(err)
	require.True(t, ok)
	assert.True(t, de.Transient)
}

func TestSendRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit hit", "code": 80007},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), testRequest())
	de, ok := appErrors.AsDispatch(err)
	require.True(t, ok)
	assert.True(t, de.Transient)
	assert.Equal(t, "rate limit hit", de.Desc)
}

func TestSendUnreachableProviderIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), testRequest())
	de, ok := appErrors.AsDispatch(err)
	require.True(t, ok)
	assert.True(t, de.Transient)
}

func TestSendMissingMessageIDIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]string{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Send(context.Background(), testInstance(), testRequest())
	de, ok := appErrors.AsDispatch(err)
	require.True(t, ok)
	assert.True(t, de.Transient)
}
