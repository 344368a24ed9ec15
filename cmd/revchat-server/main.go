// revchat-server is a small local relay: it accepts a JSON request carrying
// a session token and a prompt, performs the token exchange, forwards the
// prompt upstream, and returns the complete reply.
package main

import (
	"encoding/json"
	"flag"
	"net/http"

	"github.com/revchat/revchat/internal/auth"
	"github.com/revchat/revchat/internal/config"
	"github.com/revchat/revchat/internal/logger"
	"github.com/revchat/revchat/pkg/chatbot"
)

type askRequest struct {
	SessionToken   string `json:"session_token"`
	AccessToken    string `json:"access_token"`
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
}

type askResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	ParentID       string `json:"parent_id"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleAsk)

	logger.L.Info("starting server", "address", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}

func handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "failed to decode request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}

	token := req.AccessToken
	if token == "" {
		authenticator, err := auth.New(nil, "")
		if err != nil {
			http.Error(w, "authenticator setup failed", http.StatusInternalServerError)
			return
		}
		login, err := authenticator.Login(r.Context(), &config.Config{SessionToken: req.SessionToken})
		if err != nil {
			logger.L.Error("login failed", "error", err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		token = login.AccessToken
	}

	bot, err := chatbot.New(token, chatbot.WithConversation(req.ConversationID, req.ParentID))
	if err != nil {
		http.Error(w, "failed to create chatbot", http.StatusInternalServerError)
		return
	}

	final, err := bot.AskComplete(r.Context(), req.Prompt, chatbot.AskOptions{AutoContinue: true}, nil)
	if err != nil {
		logger.L.Error("ask failed", "error", err)
		if chatbot.IsRateLimited(err) {
			http.Error(w, "rate limited by upstream", http.StatusTooManyRequests)
			return
		}
		http.Error(w, "failed to process request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(askResponse{
		Response:       final.Message,
		ConversationID: final.ConversationID,
		ParentID:       final.ParentID,
	})
}
