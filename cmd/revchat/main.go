package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/revchat/revchat/internal/auth"
	"github.com/revchat/revchat/internal/config"
	"github.com/revchat/revchat/internal/convcache"
	"github.com/revchat/revchat/internal/history"
	"github.com/revchat/revchat/internal/logger"
	"github.com/revchat/revchat/pkg/chatbot"
)

const helpText = `
!help             - Show this message
!reset            - Forget the current conversation
!config           - Show the current configuration
!rollback <n>     - Rollback the conversation by n messages
!setconversation <uuid> - Change the conversation
!continue         - Let the assistant continue its last reply
!exit             - Exit this program
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	authenticator, err := auth.New(auth.NewTokenCache(config.Dir()), cfg.Proxy)
	if err != nil {
		logger.L.Error("failed to initialize authenticator", "error", err)
		os.Exit(1)
	}
	login, err := authenticator.Login(context.Background(), cfg)
	if err != nil {
		logger.L.Error("login failed", "error", err)
		os.Exit(1)
	}
	if login.SessionToken != "" {
		logger.L.Info("session token was rotated; update your config to keep the session alive")
	}

	cache, err := convcache.Open(filepath.Join(config.Dir(), "conversations.bolt"))
	if err != nil {
		logger.L.Warn("conversation cache unavailable", "error", err)
	}

	opts := []chatbot.Option{
		chatbot.WithModel(cfg.Model),
		chatbot.WithPaid(cfg.Paid),
		chatbot.WithConversation(cfg.ConversationID, cfg.ParentID),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, chatbot.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chatbot.WithProxy(cfg.Proxy))
	}
	if cache != nil {
		opts = append(opts, chatbot.WithConversationCache(cache))
	}
	bot, err := chatbot.New(login.AccessToken, opts...)
	if err != nil {
		logger.L.Error("failed to create chatbot", "error", err)
		os.Exit(1)
	}

	fmt.Println("revchat - a command-line client for the chat service")
	fmt.Println("Type '!help' to show a full list of commands")
	fmt.Println("Press enter twice to submit your question.")

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYou:\n")
		prompt, ok := readInput(in)
		if !ok {
			return
		}
		if prompt == "" {
			continue
		}
		if strings.HasPrefix(prompt, "!") && handleCommand(bot, cfg, prompt) {
			continue
		}

		history.Save(history.Entry{
			ConversationID: bot.ConversationID(),
			Role:           "user",
			Content:        prompt,
			CreatedAt:      time.Now(),
		})

		fmt.Print("\nChatbot:\n")
		final, err := bot.AskComplete(context.Background(), prompt, chatbot.AskOptions{AutoContinue: cfg.AutoContinue}, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		if err != nil {
			logger.L.Error("ask failed", "error", err)
			continue
		}
		history.Save(history.Entry{
			ConversationID: final.ConversationID,
			MessageID:      final.ParentID,
			Role:           "assistant",
			Content:        final.Message,
			Model:          final.Model,
			CreatedAt:      time.Now(),
		})
	}
}

// readInput collects lines until a blank line. ok is false on EOF.
func readInput(in *bufio.Scanner) (string, bool) {
	var lines []string
	for in.Scan() {
		line := in.Text()
		if line == "" {
			return strings.Join(lines, "\n"), true
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), len(lines) > 0
}

// handleCommand runs a REPL command. Returns false when the input is not a
// recognized command and should be sent as a prompt instead.
func handleCommand(bot *chatbot.Chatbot, cfg *config.Config, command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "!help":
		fmt.Print(helpText)
	case "!reset":
		bot.Reset()
		fmt.Println("Chat session successfully reset.")
	case "!config":
		fmt.Println(cfg.String())
	case "!rollback":
		n := 1
		if len(fields) > 1 {
			if parsed, err := strconv.Atoi(fields[1]); err == nil && parsed > 0 {
				n = parsed
			}
		}
		bot.Rollback(n)
		fmt.Printf("Rolled back %d messages.\n", n)
	case "!setconversation":
		if len(fields) < 2 {
			fmt.Println("Please include the conversation UUID in the command")
			return true
		}
		bot.SetConversation(fields[1])
		cfg.ConversationID = fields[1]
		fmt.Println("Conversation has been changed")
	case "!continue":
		fmt.Print("\nChatbot:\n")
		stream, err := bot.ContinueWrite(context.Background(), chatbot.AskOptions{})
		if err != nil {
			logger.L.Error("continue failed", "error", err)
			return true
		}
		printStream(stream)
		fmt.Println()
	case "!exit":
		os.Exit(0)
	default:
		return false
	}
	return true
}

func printStream(stream *chatbot.Stream) {
	defer stream.Close()
	prev := ""
	for {
		chunk, err := stream.Recv()
		if err != nil {
			return
		}
		if strings.HasPrefix(chunk.Message, prev) {
			fmt.Print(chunk.Message[len(prev):])
		}
		prev = chunk.Message
	}
}
