package chatbot

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/revchat/revchat/internal/logger"
)

// Stream yields incremental response chunks from one conversation request.
// Recv returns io.EOF once the server signals the end of the stream.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	bot     *Chatbot

	last   ResponseChunk
	gotAny bool
	done   bool
}

func newStream(bot *Chatbot, body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	// Replies can carry large parts; a single event may exceed the default
	// scanner buffer.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: body, scanner: sc, bot: bot}
}

// Recv returns the next chunk. Each chunk carries the full reply text seen so
// far. io.EOF marks the normal end of the stream.
func (s *Stream) Recv() (ResponseChunk, error) {
	if s.done {
		return ResponseChunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "internal server error") {
			s.finish()
			return ResponseChunk{}, &Error{Source: "ask", Message: "internal server error", Code: CodeServerError}
		}
		line = strings.TrimPrefix(line, "data: ")
		if line == "[DONE]" {
			break
		}

		var ev wireEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// The stream interleaves non-JSON keepalive noise; skip it.
			logger.L.Debug("skipping undecodable stream line", "line", line)
			continue
		}
		if ev.Message == nil || ev.Message.Content == nil {
			s.finish()
			return ResponseChunk{}, &Error{Source: "ask", Message: "field missing in stream event: " + line, Code: CodeServerError}
		}
		if ev.Message.Author.Role != "assistant" {
			continue
		}

		chunk := ResponseChunk{
			ConversationID: ev.ConversationID,
			ParentID:       ev.Message.ID,
			EndTurn:        true,
			Recipient:      "all",
		}
		if len(ev.Message.Content.Parts) > 0 {
			chunk.Message = ev.Message.Content.Parts[0]
		}
		if md := ev.Message.Metadata; md != nil {
			chunk.Model = md.ModelSlug
			if md.FinishDetails != nil {
				chunk.FinishDetails = md.FinishDetails.Type
			}
		}
		if ev.Message.EndTurn != nil {
			chunk.EndTurn = *ev.Message.EndTurn
		}
		if ev.Message.Recipient != "" {
			chunk.Recipient = ev.Message.Recipient
		}

		s.last = chunk
		s.gotAny = true
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		s.finish()
		return ResponseChunk{}, err
	}
	s.finish()
	return ResponseChunk{}, io.EOF
}

// Last returns the most recent chunk, valid after the stream is drained.
func (s *Stream) Last() ResponseChunk { return s.last }

// finish records the final conversation ids on the owning chatbot and
// releases the response body.
func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.gotAny {
		s.bot.adoptIDs(s.last.ConversationID, s.last.ParentID)
	}
	_ = s.body.Close()
}

// Close releases the stream without draining it.
func (s *Stream) Close() error {
	s.finish()
	return nil
}
