package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/promptlift/clientcore/internal/errors"
)

func validPayload() *Payload {
	return &Payload{
		RemoteBaseURL: "https://api.example.com",
		AuthBaseURL:   "https://auth.example.com",
		Capabilities:  map[string]bool{"enhance": true, "track_usage": true},
	}
}

func TestManager_ConcurrentAcquireConstructsOnce(t *testing.T) {
	var builds int32
	gate := make(chan struct{})
	builder := func(ctx context.Context) (*Payload, error) {
		atomic.AddInt32(&builds, 1)
		<-gate
		return validPayload(), nil
	}

	m := NewManager(builder, nil, nil)

	const callers = 3
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			handles[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	started.Wait()
	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected exactly one construction, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatalf("caller %d resolved to a different handle", i)
		}
	}
}

func TestManager_AcquireReturnsCachedInstance(t *testing.T) {
	var builds int32
	builder := func(ctx context.Context) (*Payload, error) {
		atomic.AddInt32(&builds, 1)
		return validPayload(), nil
	}

	m := NewManager(builder, nil, nil)
	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached handle")
	}
	if atomic.LoadInt32(&builds) != 1 {
		t.Fatalf("expected one construction, got %d", builds)
	}
}

func TestManager_DestroyThenAcquireYieldsFreshHandle(t *testing.T) {
	builder := func(ctx context.Context) (*Payload, error) {
		return validPayload(), nil
	}

	m := NewManager(builder, nil, nil)
	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	m.Destroy()
	if !first.Destroyed() {
		t.Fatalf("destroyed handle still reports live")
	}
	if first.Payload() != nil {
		t.Fatalf("destroyed handle retained its payload")
	}
	// Destroy again: idempotent, no panic.
	m.Destroy()

	second, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after destroy: %v", err)
	}
	if second == first {
		t.Fatalf("expected a distinct handle after destroy")
	}
	if second.InstanceID == first.InstanceID {
		t.Fatalf("expected a fresh instance ID, both are %d", second.InstanceID)
	}
}

func TestManager_FailureRejectsAllWaitersButDoesNotPoison(t *testing.T) {
	var builds int32
	gate := make(chan struct{})
	builder := func(ctx context.Context) (*Payload, error) {
		n := atomic.AddInt32(&builds, 1)
		if n == 1 {
			<-gate
			return nil, fmt.Errorf("provider down")
		}
		return validPayload(), nil
	}

	m := NewManager(builder, nil, nil)

	const callers = 3
	errs := make([]error, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			_, errs[i] = m.Acquire(context.Background())
		}(i)
	}
	started.Wait()
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if !errors.HasCode(errs[i], errors.CodeInitializationFailed) {
			t.Fatalf("caller %d: expected initialization failure, got %v", i, errs[i])
		}
	}

	// Next call starts a fresh attempt and succeeds.
	handle, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after failure: %v", err)
	}
	if handle == nil || !handle.valid() {
		t.Fatalf("expected a live handle after recovery")
	}
}

func TestManager_InvalidPayloadFailsFast(t *testing.T) {
	builder := func(ctx context.Context) (*Payload, error) {
		return &Payload{RemoteBaseURL: "https://api.example.com"}, nil
	}

	m := NewManager(builder, nil, nil)
	if _, err := m.Acquire(context.Background()); !errors.HasCode(err, errors.CodeInitializationFailed) {
		t.Fatalf("expected initialization failure for invalid payload, got %v", err)
	}
	if m.Current() != nil {
		t.Fatalf("invalid payload must not become the current instance")
	}
}

func TestPayload_Validate(t *testing.T) {
	cases := []struct {
		name    string
		payload *Payload
		wantErr bool
	}{
		{"valid", validPayload(), false},
		{"nil", nil, true},
		{"missing remote URL", &Payload{AuthBaseURL: "a", Capabilities: map[string]bool{"enhance": true, "track_usage": true}}, true},
		{"missing capability", &Payload{RemoteBaseURL: "r", AuthBaseURL: "a", Capabilities: map[string]bool{"enhance": true}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
