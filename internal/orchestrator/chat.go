package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/storage"
)

// ChatRequest is one user chat message
type ChatRequest struct {
	Input          string `json:"content"`
	Model          string `json:"model,omitempty"`
	SurfaceContext string `json:"surfaceContext,omitempty"`
}

// ChatOutcome is how a chat request ended
type ChatOutcome string

const (
	ChatCompleted  ChatOutcome = "completed"
	ChatQueued     ChatOutcome = "queued"
	ChatQueueFull  ChatOutcome = "queue_full"
	ChatRejected   ChatOutcome = "rejected"
	ChatCancelled  ChatOutcome = "cancelled"
	ChatAuthFailed ChatOutcome = "auth_failed"
	ChatFailed     ChatOutcome = "failed"
)

// ChatResult is returned by HandleChat
type ChatResult struct {
	Outcome ChatOutcome `json:"outcome"`
	// TaskID is the task that ran the request, or the occupant it was queued into
	TaskID   string `json:"taskId,omitempty"`
	Response string `json:"response,omitempty"`
}

// Err maps outcomes that did not run the request to a sentinel error
func (r ChatResult) Err() error {
	switch r.Outcome {
	case ChatQueueFull:
		return ErrQueueFull
	case ChatRejected:
		return ErrBusy
	default:
		return nil
	}
}

// HandleChat runs req as a foreground task, or reconciles it with the running
// task according to the session's busy policy. Cancellation, authentication
// failures and queue rejections are handled here and return a nil error; any
// other runtime error is returned after the guard has been released and the
// requester has been told.
func (s *Session) HandleChat(ctx context.Context, origin string, req ChatRequest) (ChatResult, error) {
	if s.closed.Load() {
		return ChatResult{Outcome: ChatRejected}, ErrSessionClosed
	}
	if req.Input == "" {
		return ChatResult{Outcome: ChatRejected}, errors.New("chat input cannot be empty")
	}

	h, res, err := s.admit(ctx, origin, req)
	if h == nil {
		return res, err
	}
	return s.runChat(ctx, origin, req, h)
}

// admit returns a handle when the request should run, otherwise the
// acknowledged result
func (s *Session) admit(ctx context.Context, origin string, req ChatRequest) (*TaskHandle, ChatResult, error) {
	opts := StartOptions{
		Kind:           KindChat,
		Input:          req.Input,
		Model:          req.Model,
		SurfaceContext: req.SurfaceContext,
	}

	for {
		h, err := s.guard.Start(ctx, opts)
		if err == nil {
			return h, ChatResult{}, nil
		}
		var busyErr *BusyError
		if !errors.As(err, &busyErr) {
			return nil, ChatResult{Outcome: ChatRejected}, err
		}

		occupant := busyErr.Occupant
		decision := s.policy.OnBusy(BusyContext{
			Occupant:    occupant,
			RuntimeBusy: s.runtime.IsBusy(),
			Input:       req.Input,
		})
		s.logger.Debug("Chat received while busy",
			"client_id", origin,
			"occupant", occupant.ID,
			"occupant_kind", occupant.Kind,
			"decision", decision.String(),
		)

		switch decision {
		case DecisionQueue:
			switch s.queue.Offer(req.Input) {
			case OfferQueued:
				s.metrics.chimeIn(OfferQueued.String())
				s.deliver(origin, ChimeInEvent(AckQueued, config.MsgChimeInQueued))
				return nil, ChatResult{Outcome: ChatQueued, TaskID: occupant.ID}, nil
			case OfferFull:
				s.metrics.chimeIn(OfferFull.String())
				s.deliver(origin, ChimeInEvent(AckFull, fmt.Sprintf(config.MsgChimeInFull, s.maxPending)))
				return nil, ChatResult{Outcome: ChatQueueFull, TaskID: occupant.ID}, nil
			}
			// the occupant began settling after Start; retry against the new state
		case DecisionPreempt:
			opts.Preempt = true
		case DecisionWait:
			h, err := s.guard.Acquire(ctx, opts)
			if err != nil {
				return nil, ChatResult{Outcome: ChatRejected}, err
			}
			return h, ChatResult{}, nil
		default:
			s.metrics.chimeIn("rejected")
			s.deliver(origin, ChimeInEvent(AckBusy, config.MsgAgentBusy))
			return nil, ChatResult{Outcome: ChatRejected, TaskID: occupant.ID}, nil
		}
	}
}

// runChat invokes the runtime while h holds the slot. The terminal message
// and status=idle are sent before the slot is released so that a preempting
// or waiting task cannot report working ahead of them.
func (s *Session) runChat(ctx context.Context, origin string, req ChatRequest, h *TaskHandle) (ChatResult, error) {
	defer h.Release()

	task := h.Task()
	s.audit.TaskStarted(ctx, s.id, task)
	s.metrics.taskStarted(KindChat)
	s.deliver(origin, StatusEvent(StatusWorking))

	resp, runErr := s.runtime.Run(h.Context(), req.Input, RunOptions{
		TaskID:         task.ID,
		Model:          req.Model,
		SurfaceContext: req.SurfaceContext,
		ChimeIns:       s.queue.Source(task.ID),
	})
	h.Settle()

	res, outcome, err := s.settleChat(origin, h, resp, runErr)
	s.audit.TaskEnded(ctx, s.id, task, outcome, runErr)
	s.metrics.taskSettled(KindChat, string(outcome), time.Since(task.StartedAt))
	return res, err
}

func (s *Session) settleChat(
	origin string,
	h *TaskHandle,
	resp string,
	runErr error,
) (ChatResult, storage.TaskOutcome, error) {
	taskCtx := h.Context()
	res := ChatResult{TaskID: h.Task().ID}
	defer s.deliver(origin, StatusEvent(StatusIdle))

	switch {
	case IsCancellation(taskCtx, runErr):
		s.deliver(origin, MessageEvent(RoleSystem, cancelMessage(context.Cause(taskCtx))))
		res.Outcome = ChatCancelled
		return res, storage.TaskOutcomeCancelled, nil

	case runErr == nil:
		s.deliver(origin, MessageEvent(RoleAssistant, resp))
		res.Outcome = ChatCompleted
		res.Response = resp
		return res, storage.TaskOutcomeCompleted, nil

	case IsAuthError(runErr):
		s.logger.Warn("Runtime authentication failed", "task_id", res.TaskID, "error", runErr)
		s.broadcast(AuthErrorEvent(config.MsgAuthFailed, config.MsgAuthSuggestion))
		s.deliver(origin, MessageEvent(RoleSystem, fmt.Sprintf(config.MsgAuthRemediation, runErr)))
		res.Outcome = ChatAuthFailed
		return res, storage.TaskOutcomeAuthFailed, nil

	default:
		s.deliver(origin, MessageEvent(RoleSystem, fmt.Sprintf(config.MsgTaskFailed, runErr)))
		res.Outcome = ChatFailed
		return res, storage.TaskOutcomeFailed, fmt.Errorf("task %s: %w", res.TaskID, runErr)
	}
}
