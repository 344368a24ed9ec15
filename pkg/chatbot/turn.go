package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/revchat/revchat/internal/logger"
)

// FSM states of a single conversation turn.
type turnState stateless.State

var (
	stateReadyToSend turnState = "ReadyToSend"
	stateStreaming   turnState = "Streaming"
	stateDone        turnState = "Done"
	stateError       turnState = "Error"
)

// FSM triggers.
type turnTrigger stateless.Trigger

var (
	triggerStart         turnTrigger = "Start"
	triggerSend          turnTrigger = "Send"
	triggerStreamEnded   turnTrigger = "StreamEnded"
	triggerNeedsContinue turnTrigger = "NeedsContinue"
	triggerFailed        turnTrigger = "Failed"
)

// maxContinues bounds how often a truncated reply is resumed.
const maxContinues = 5

// AskComplete runs a full conversation turn: it sends the prompt, drains the
// response stream, and transparently resumes the reply while the service
// reports it was cut off at the token limit. onDelta, when non-nil, receives
// each new suffix of the reply as it streams in. The returned chunk carries
// the complete final text.
func (c *Chatbot) AskComplete(ctx context.Context, prompt string, opts AskOptions, onDelta func(string)) (ResponseChunk, error) {
	type turnContext struct {
		action    string // "next" then "continue"
		prefix    string // text accumulated across continues
		prevText  string // full text of the last chunk seen
		last      ResponseChunk
		continues int
		lastError error
	}
	tc := &turnContext{action: "next"}

	fsm := stateless.NewStateMachine(stateReadyToSend)

	// ReadyToSend opens the request for the current action. Streaming drains
	// it chunk by chunk, then decides between Done and NeedsContinue. The
	// reentry on triggerStart is what runs OnEntry for the initial state:
	// the machine only executes entry actions on a transition, so the turn
	// is kicked off with an explicit fire below.
	fsm.Configure(stateReadyToSend).
		PermitReentry(triggerStart).
		OnEntry(func(ctx context.Context, args ...any) error {
			var stream *Stream
			var err error
			if tc.action == "next" {
				stream, err = c.Ask(ctx, prompt, opts)
			} else {
				continueOpts := opts
				continueOpts.ConversationID = tc.last.ConversationID
				continueOpts.ParentID = ""
				if tc.last.Model != "" {
					continueOpts.Model = tc.last.Model
				}
				stream, err = c.ContinueWrite(ctx, continueOpts)
			}
			if err != nil {
				tc.lastError = err
				return fsm.FireCtx(ctx, triggerFailed)
			}
			return fsm.FireCtx(ctx, triggerSend, stream)
		}).
		Permit(triggerSend, stateStreaming).
		Permit(triggerFailed, stateError)

	fsm.Configure(stateStreaming).
		OnEntry(func(ctx context.Context, args ...any) error {
			stream, ok := args[0].(*Stream)
			if !ok {
				tc.lastError = errors.New("turn: no stream handed to streaming state")
				return fsm.FireCtx(ctx, triggerFailed)
			}
			defer stream.Close()
			for {
				chunk, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					tc.lastError = err
					return fsm.FireCtx(ctx, triggerFailed)
				}
				full := tc.prefix + chunk.Message
				if onDelta != nil && strings.HasPrefix(full, tc.prevText) {
					onDelta(full[len(tc.prevText):])
				}
				tc.prevText = full
				chunk.Message = full
				tc.last = chunk
			}

			if opts.AutoContinue && tc.last.FinishDetails == "max_tokens" {
				if tc.continues >= maxContinues {
					logger.L.Warn("giving up on continuing a truncated reply", "continues", tc.continues)
					return fsm.FireCtx(ctx, triggerStreamEnded)
				}
				tc.continues++
				tc.action = "continue"
				tc.prefix = strings.TrimRight(tc.last.Message, "\n")
				tc.prevText = tc.prefix
				return fsm.FireCtx(ctx, triggerNeedsContinue)
			}
			return fsm.FireCtx(ctx, triggerStreamEnded)
		}).
		Permit(triggerNeedsContinue, stateReadyToSend).
		Permit(triggerStreamEnded, stateDone).
		Permit(triggerFailed, stateError)

	fsm.Configure(stateDone)
	fsm.Configure(stateError)

	if err := fsm.FireCtx(ctx, triggerStart); err != nil {
		if tc.lastError != nil {
			return ResponseChunk{}, tc.lastError
		}
		return ResponseChunk{}, fmt.Errorf("turn start error: %w", err)
	}

	state, err := fsm.State(ctx)
	if err != nil {
		return ResponseChunk{}, fmt.Errorf("turn internal error: %w", err)
	}
	switch state {
	case stateDone:
		return tc.last, nil
	case stateError:
		if tc.lastError != nil {
			return ResponseChunk{}, tc.lastError
		}
		return ResponseChunk{}, errors.New("turn ended in error state without a cause")
	}
	return ResponseChunk{}, fmt.Errorf("turn ended in unexpected state: %v", state)
}
