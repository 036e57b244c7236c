package orchestrator

import (
	"fmt"

	"github.com/AltairaLabs/assistant-server/internal/config"
)

// BusyDecision is what to do with a chat request that finds the slot occupied
type BusyDecision int

const (
	// DecisionReject acknowledges the request as "busy" without running it
	DecisionReject BusyDecision = iota
	// DecisionQueue offers the input to the running task as a chime-in
	DecisionQueue
	// DecisionPreempt cancels the occupant and starts the new request
	DecisionPreempt
	// DecisionWait blocks until the slot frees, then starts the request
	DecisionWait
)

func (d BusyDecision) String() string {
	switch d {
	case DecisionQueue:
		return "queue"
	case DecisionPreempt:
		return "preempt"
	case DecisionWait:
		return "wait"
	default:
		return "reject"
	}
}

// BusyContext is what a policy sees when deciding
type BusyContext struct {
	Occupant ForegroundTask
	// RuntimeBusy reports whether the runtime is mid-invocation and can absorb input
	RuntimeBusy bool
	Input       string
}

// BusyPolicy decides how a chat request is reconciled with the running task
type BusyPolicy interface {
	Name() string
	OnBusy(bc BusyContext) BusyDecision
}

// CooperativePolicy queues input into the running chat when the runtime can
// absorb it. Interrupt remains the only way to stop the running task.
type CooperativePolicy struct{}

// Name returns the config name of the policy
func (CooperativePolicy) Name() string { return config.PolicyCooperative }

// OnBusy implements BusyPolicy
func (CooperativePolicy) OnBusy(bc BusyContext) BusyDecision {
	if bc.Occupant.Kind == KindAutoFix || bc.Occupant.Settling {
		return DecisionWait
	}
	if bc.RuntimeBusy {
		return DecisionQueue
	}
	return DecisionReject
}

// PreemptivePolicy replaces the running chat with the new request
type PreemptivePolicy struct{}

// Name returns the config name of the policy
func (PreemptivePolicy) Name() string { return config.PolicyPreemptive }

// OnBusy implements BusyPolicy
func (PreemptivePolicy) OnBusy(bc BusyContext) BusyDecision {
	if bc.Occupant.Kind == KindAutoFix || bc.Occupant.Settling {
		return DecisionWait
	}
	return DecisionPreempt
}

// PolicyByName returns the policy configured as session.policy
func PolicyByName(name string) (BusyPolicy, error) {
	switch name {
	case config.PolicyCooperative, "":
		return CooperativePolicy{}, nil
	case config.PolicyPreemptive:
		return PreemptivePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown busy policy %q", name)
	}
}
