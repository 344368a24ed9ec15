package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/revchat/revchat/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func upstreamEvent(text string) string {
	ev := map[string]any{
		"conversation_id": "conv-1",
		"message": map[string]any{
			"id":     "msg-1",
			"author": map[string]string{"role": "assistant"},
			"content": map[string]any{
				"content_type": "text",
				"parts":        []string{text},
			},
			"metadata": map[string]any{
				"model_slug":     "text-davinci-002-render-sha",
				"finish_details": map[string]string{"type": "stop"},
			},
			"end_turn": true,
		},
	}
	raw, _ := json.Marshal(ev)
	return fmt.Sprintf("data: %s\n\ndata: [DONE]\n", raw)
}

func TestHandleAsk_ReturnsReply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, upstreamEvent("relayed reply"))
	}))
	t.Cleanup(upstream.Close)
	t.Setenv("CHATGPT_BASE_URL", upstream.URL+"/")

	body := strings.NewReader(`{"access_token":"tok","prompt":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	rec := httptest.NewRecorder()
	handleAsk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp askResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "relayed reply", resp.Response)
	require.Equal(t, "conv-1", resp.ConversationID)
}

func TestHandleAsk_UsesRequestContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, upstreamEvent("never delivered"))
	}))
	t.Cleanup(upstream.Close)
	t.Setenv("CHATGPT_BASE_URL", upstream.URL+"/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	body := strings.NewReader(`{"access_token":"tok","prompt":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body).WithContext(ctx)
	rec := httptest.NewRecorder()
	handleAsk(rec, req)

	// A client that has gone away must abort the upstream turn.
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleAsk_BadRequests(t *testing.T) {
	rec := httptest.NewRecorder()
	handleAsk(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handleAsk(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"access_token":"tok"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
