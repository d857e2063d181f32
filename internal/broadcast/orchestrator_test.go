package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eroaming/hub/internal/partner"
)

type fakeSource struct {
	partners []partner.Partner
}

func (f *fakeSource) ActivePartners() []partner.Partner { return f.partners }

// fakeCaller runs a scripted behavior per partner id.
type fakeCaller struct {
	mu        sync.Mutex
	behaviors map[string]func(ctx context.Context) PartnerResponse
	calls     map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		behaviors: make(map[string]func(ctx context.Context) PartnerResponse),
		calls:     make(map[string]int),
	}
}

func (f *fakeCaller) on(id string, behavior func(ctx context.Context) PartnerResponse) {
	f.behaviors[id] = behavior
}

func (f *fakeCaller) SendStartCharging(ctx context.Context, p partner.Partner, uid string) PartnerResponse {
	f.mu.Lock()
	f.calls[p.ID]++
	behavior := f.behaviors[p.ID]
	f.mu.Unlock()

	if behavior == nil {
		return PartnerResponse{PartnerID: p.ID, Success: false, Status: "ERROR", Message: "unscripted"}
	}
	return behavior(ctx)
}

func respondAfter(delay time.Duration, resp PartnerResponse) func(ctx context.Context) PartnerResponse {
	return func(ctx context.Context) PartnerResponse {
		select {
		case <-time.After(delay):
			return resp
		case <-ctx.Done():
			return PartnerResponse{PartnerID: resp.PartnerID, Success: false, Status: "ERROR",
				Message: ctx.Err().Error(), Timeout: true}
		}
	}
}

func partners(ids ...string) []partner.Partner {
	out := make([]partner.Partner, 0, len(ids))
	for _, id := range ids {
		p := partner.Partner{ID: id, BaseURL: "https://" + id, StartChargingEndpoint: "/start"}
		p.Normalize()
		out = append(out, p)
	}
	return out
}

func newTestOrchestrator(t *testing.T, source PartnerSource, caller Caller, deadline time.Duration) *Orchestrator {
	t.Helper()
	pool := NewWorkerPool(10, 50, 100)
	t.Cleanup(func() { pool.Shutdown(time.Second) })
	return NewOrchestrator(source, caller, pool, NewMetrics(prometheus.NewRegistry()), deadline)
}

func TestBroadcastFirstSuccessWins(t *testing.T) {
	caller := newFakeCaller()
	caller.on("slow", respondAfter(500*time.Millisecond,
		PartnerResponse{PartnerID: "slow", Success: true, Status: "SUCCESS"}))
	caller.on("fast", respondAfter(10*time.Millisecond,
		PartnerResponse{PartnerID: "fast", Success: true, Status: "SUCCESS"}))

	o := newTestOrchestrator(t, &fakeSource{partners("slow", "fast")}, caller, 5*time.Second)

	start := time.Now()
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	assert.True(t, resp.Success)
	assert.Equal(t, "fast", resp.RespondingPartner)
	assert.Equal(t, "Charging started successfully with partner fast", resp.Message)
	// Early termination: the slow sibling was not waited for.
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestBroadcastSuccessAfterFailures(t *testing.T) {
	caller := newFakeCaller()
	caller.on("bad", respondAfter(5*time.Millisecond,
		PartnerResponse{PartnerID: "bad", Success: false, Status: "REJECTED", Message: "no"}))
	caller.on("good", respondAfter(50*time.Millisecond,
		PartnerResponse{PartnerID: "good", Success: true, Status: "SUCCESS"}))

	o := newTestOrchestrator(t, &fakeSource{partners("bad", "good")}, caller, 5*time.Second)
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	assert.True(t, resp.Success)
	assert.Equal(t, "good", resp.RespondingPartner)

	// Both outcomes appear in arrival order.
	require.Len(t, resp.PartnerResponses, 2)
	assert.Equal(t, "bad", resp.PartnerResponses[0].PartnerID)
	assert.Equal(t, "good", resp.PartnerResponses[1].PartnerID)
}

func TestBroadcastAllPartnersFail(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", respondAfter(time.Millisecond,
		PartnerResponse{PartnerID: "a", Success: false, Status: "ERROR", Message: "boom"}))
	caller.on("b", respondAfter(time.Millisecond,
		PartnerResponse{PartnerID: "b", Success: false, Status: "ERROR", Timeout: true}))
	caller.on("c", respondAfter(time.Millisecond,
		PartnerResponse{PartnerID: "c", Success: false, Status: "REJECTED"}))

	o := newTestOrchestrator(t, &fakeSource{partners("a", "b", "c")}, caller, 5*time.Second)
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	assert.False(t, resp.Success)
	assert.Empty(t, resp.RespondingPartner)
	assert.Equal(t,
		"No partner accepted the charging request. 3 partners responded (0 success, 1 timeouts, 2 errors)",
		resp.Message)
	assert.Len(t, resp.PartnerResponses, 3)
}

func TestBroadcastNoActivePartners(t *testing.T) {
	o := newTestOrchestrator(t, &fakeSource{}, newFakeCaller(), 5*time.Second)
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	assert.False(t, resp.Success)
	assert.Equal(t, "No active partners available", resp.Message)
	assert.Empty(t, resp.PartnerResponses)
}

func TestBroadcastDeadlineBoundsTotalTime(t *testing.T) {
	caller := newFakeCaller()
	caller.on("hung", respondAfter(10*time.Second,
		PartnerResponse{PartnerID: "hung", Success: true, Status: "SUCCESS"}))

	o := newTestOrchestrator(t, &fakeSource{partners("hung")}, caller, 100*time.Millisecond)

	start := time.Now()
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	assert.False(t, resp.Success)
	assert.Less(t, time.Since(start), time.Second)
	// A response arriving after cancellation is dropped, not collected.
	assert.Empty(t, resp.PartnerResponses)
	assert.Contains(t, resp.Message, "0 partners responded")
}

func TestBroadcastCancelsSiblingsAfterSuccess(t *testing.T) {
	cancelled := make(chan struct{})

	caller := newFakeCaller()
	caller.on("winner", respondAfter(5*time.Millisecond,
		PartnerResponse{PartnerID: "winner", Success: true, Status: "SUCCESS"}))
	caller.on("sibling", func(ctx context.Context) PartnerResponse {
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(2 * time.Second):
		}
		return PartnerResponse{PartnerID: "sibling", Success: false, Status: "ERROR"}
	})

	o := newTestOrchestrator(t, &fakeSource{partners("winner", "sibling")}, caller, 5*time.Second)
	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	require.True(t, resp.Success)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling call was not cancelled after the first success")
	}
}

func TestBroadcastDispatchesToAllPartners(t *testing.T) {
	caller := newFakeCaller()
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		id := id
		caller.on(id, respondAfter(10*time.Millisecond,
			PartnerResponse{PartnerID: id, Success: false, Status: "REJECTED"}))
	}

	o := newTestOrchestrator(t, &fakeSource{partners(ids...)}, caller, 5*time.Second)
	o.StartCharging(context.Background(), Request{UID: "EVSE-001"})

	caller.mu.Lock()
	defer caller.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, caller.calls[id], "partner %s", id)
	}
}

func TestBroadcastRejectedAfterShutdown(t *testing.T) {
	caller := newFakeCaller()
	o := newTestOrchestrator(t, &fakeSource{partners("a")}, caller, 5*time.Second)

	o.Shutdown(time.Second)

	resp := o.StartCharging(context.Background(), Request{UID: "EVSE-001"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Broadcast service is shutting down", resp.Message)
	assert.Empty(t, caller.calls)
}
