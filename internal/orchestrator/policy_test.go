package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusyPolicy_OnBusy(t *testing.T) {
	chat := ForegroundTask{ID: "t", Kind: KindChat}
	settling := ForegroundTask{ID: "t", Kind: KindChat, Settling: true}
	fix := ForegroundTask{ID: "f", Kind: KindAutoFix}

	tests := []struct {
		name   string
		policy BusyPolicy
		bc     BusyContext
		want   BusyDecision
	}{
		{"cooperative queues into busy runtime", CooperativePolicy{}, BusyContext{Occupant: chat, RuntimeBusy: true}, DecisionQueue},
		{"cooperative rejects when runtime cannot absorb", CooperativePolicy{}, BusyContext{Occupant: chat}, DecisionReject},
		{"cooperative waits for settling task", CooperativePolicy{}, BusyContext{Occupant: settling, RuntimeBusy: true}, DecisionWait},
		{"cooperative waits for auto-fix", CooperativePolicy{}, BusyContext{Occupant: fix, RuntimeBusy: true}, DecisionWait},
		{"preemptive preempts chat", PreemptivePolicy{}, BusyContext{Occupant: chat, RuntimeBusy: true}, DecisionPreempt},
		{"preemptive preempts idle runtime", PreemptivePolicy{}, BusyContext{Occupant: chat}, DecisionPreempt},
		{"preemptive waits for settling task", PreemptivePolicy{}, BusyContext{Occupant: settling}, DecisionWait},
		{"preemptive waits for auto-fix", PreemptivePolicy{}, BusyContext{Occupant: fix}, DecisionWait},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.OnBusy(tt.bc)
			assert.Equal(t, tt.want, got, "got %s", got)
		})
	}
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("cooperative")
	require.NoError(t, err)
	assert.Equal(t, "cooperative", p.Name())

	p, err = PolicyByName("")
	require.NoError(t, err)
	assert.IsType(t, CooperativePolicy{}, p)

	p, err = PolicyByName("preemptive")
	require.NoError(t, err)
	assert.Equal(t, "preemptive", p.Name())

	_, err = PolicyByName("lottery")
	assert.Error(t, err)
}
