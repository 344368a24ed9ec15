package official

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func newTestChatbot(t *testing.T, handler http.Handler, opts Options) *Chatbot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL + "/v1"
	bot, err := NewChatbot("test-key", opts)
	require.NoError(t, err)
	return bot
}

func completionResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: text,
			},
		}},
	}
}

func TestAsk_TracksHistory(t *testing.T) {
	var seen []openai.ChatCompletionMessage
	bot := newTestChatbot(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = req.Messages
		_ = json.NewEncoder(w).Encode(completionResponse("reply " + req.Messages[len(req.Messages)-1].Content))
	}), Options{})

	ctx := context.Background()

	reply, err := bot.Ask(ctx, "one", "")
	require.NoError(t, err)
	require.Equal(t, "reply one", reply)
	require.Equal(t, openai.ChatMessageRoleSystem, seen[0].Role)

	_, err = bot.Ask(ctx, "two", "")
	require.NoError(t, err)
	// system + user one + assistant reply + user two
	require.Len(t, seen, 4)
	require.Equal(t, "reply one", seen[2].Content)
	require.Equal(t, 4, bot.Conversations.Len(DefaultConversation))
}

func TestAsk_SeparateConversations(t *testing.T) {
	bot := newTestChatbot(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse("ok"))
	}), Options{})

	ctx := context.Background()
	_, err := bot.Ask(ctx, "a", "left")
	require.NoError(t, err)
	_, err = bot.Ask(ctx, "b", "right")
	require.NoError(t, err)

	require.Equal(t, 2, bot.Conversations.Len("left"))
	require.Equal(t, 2, bot.Conversations.Len("right"))
}

func TestAskStream_Deltas(t *testing.T) {
	bot := newTestChatbot(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			chunk := map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": delta}}},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}), Options{})

	var deltas []string
	reply, err := bot.AskStream(context.Background(), "hi", "", func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	require.Equal(t, "Hello", reply)
	require.Equal(t, []string{"Hel", "lo"}, deltas)
	require.Equal(t, 2, bot.Conversations.Len(DefaultConversation))
}

func TestConversations_Rollback(t *testing.T) {
	convs, err := NewConversations(0, 0)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		convs.Add("c", openai.ChatCompletionMessage{Role: "user", Content: fmt.Sprintf("msg %d", i)})
	}
	convs.Rollback("c", 2)
	require.Equal(t, 2, convs.Len("c"))

	convs.Rollback("c", 10)
	require.Equal(t, 0, convs.Len("c"))
}

func TestConversations_PurgeAndRemove(t *testing.T) {
	convs, err := NewConversations(0, 0)
	require.NoError(t, err)

	convs.Add("c", openai.ChatCompletionMessage{Role: "user", Content: "oldest"})
	convs.Add("c", openai.ChatCompletionMessage{Role: "user", Content: "newest"})
	convs.Purge("c", 1)
	msgs := convs.Messages("c")
	require.Len(t, msgs, 1)
	require.Equal(t, "newest", msgs[0].Content)

	convs.Remove("c")
	require.Equal(t, 0, convs.Len("c"))
}

func TestConversations_TokenBudgetTrims(t *testing.T) {
	// A tight budget forces the oldest messages out.
	convs, err := NewConversations(60, 10)
	require.NoError(t, err)

	long := strings.Repeat("history padding ", 40)
	convs.Add("c", openai.ChatCompletionMessage{Role: "user", Content: long})
	convs.Add("c", openai.ChatCompletionMessage{Role: "user", Content: "recent"})

	msgs := convs.Messages("c")
	require.Len(t, msgs, 1)
	require.Equal(t, "recent", msgs[0].Content)
}
