package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/revchat/revchat/internal/config"
	"github.com/revchat/revchat/pkg/chatbot"
)

func newTestREPL(t *testing.T) (*chatbot.Chatbot, *config.Config) {
	t.Helper()
	bot, err := chatbot.New("test-token")
	require.NoError(t, err)
	return bot, &config.Config{}
}

func TestHandleCommand_ExactNames(t *testing.T) {
	bot, cfg := newTestREPL(t)

	require.True(t, handleCommand(bot, cfg, "!reset"))
	require.True(t, handleCommand(bot, cfg, "!rollback"))
	require.True(t, handleCommand(bot, cfg, "!rollback 2"))

	// A command name with trailing junk is a prompt, not a command.
	require.False(t, handleCommand(bot, cfg, "!rollbackfoo"))
	require.False(t, handleCommand(bot, cfg, "!setconversationx abc"))
	require.False(t, handleCommand(bot, cfg, "!unknown"))
}

func TestHandleCommand_SetConversation(t *testing.T) {
	bot, cfg := newTestREPL(t)

	require.True(t, handleCommand(bot, cfg, "!setconversation 1234"))
	require.Equal(t, "1234", cfg.ConversationID)
	require.Equal(t, "1234", bot.ConversationID())

	// Missing argument is still handled, just with a usage message.
	require.True(t, handleCommand(bot, cfg, "!setconversation"))
}
