package node

import (
	"errors"
	"testing"
	"time"
)

type fakeService struct {
	name      string
	startErr  error
	stopErr   error
	stopDelay time.Duration
	started   bool
	stopped   bool
	onStart   func()
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.onStart != nil {
		f.onStart()
	}
	f.started = true
	return nil
}

func (f *fakeService) Stop() error {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = true
	return nil
}

func TestLifecycleManagerStartAllOrdersByPriority(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	var order []string
	second := &fakeService{name: "second-priority"}
	second.onStart = func() { order = append(order, second.name) }
	first := &fakeService{name: "first-priority"}
	first.onStart = func() { order = append(order, first.name) }

	if err := lm.Register(second, 20); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lm.Register(first, 10); err != nil {
		t.Fatalf("register: %v", err)
	}

	if errs := lm.StartAll(); len(errs) != 0 {
		t.Fatalf("unexpected start errors: %v", errs)
	}
	if !first.started || !second.started {
		t.Fatal("expected both services to start")
	}
	if lm.GetState(first.name) != StateRunning || lm.GetState(second.name) != StateRunning {
		t.Fatal("expected both services to be running")
	}
	if len(order) != 2 || order[0] != first.name || order[1] != second.name {
		t.Fatalf("expected start order [%s %s], got %v", first.name, second.name, order)
	}
}

func TestLifecycleManagerRegisterRejectsDuplicateName(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	if err := lm.Register(&fakeService{name: "dup"}, 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lm.Register(&fakeService{name: "dup"}, 2); err == nil {
		t.Fatal("expected an error registering a duplicate service name")
	}
}

func TestLifecycleManagerRegisterRejectsOverCapacity(t *testing.T) {
	cfg := LifecycleConfig{ShutdownTimeout: time.Second, MaxServices: 1}
	lm := NewLifecycleManager(cfg)
	if err := lm.Register(&fakeService{name: "a"}, 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := lm.Register(&fakeService{name: "b"}, 2); err == nil {
		t.Fatal("expected an error registering beyond MaxServices")
	}
}

func TestLifecycleManagerStopAllStopsRunningServicesConcurrently(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	a := &fakeService{name: "a", stopDelay: 10 * time.Millisecond}
	b := &fakeService{name: "b", stopDelay: 10 * time.Millisecond}
	_ = lm.Register(a, 1)
	_ = lm.Register(b, 2)
	if errs := lm.StartAll(); len(errs) != 0 {
		t.Fatalf("unexpected start errors: %v", errs)
	}

	start := time.Now()
	if errs := lm.StopAll(); len(errs) != 0 {
		t.Fatalf("unexpected stop errors: %v", errs)
	}
	elapsed := time.Since(start)
	if elapsed > 18*time.Millisecond {
		t.Fatalf("expected concurrent stop to take roughly one delay, took %s", elapsed)
	}

	if !a.stopped || !b.stopped {
		t.Fatal("expected both services to be stopped")
	}
	if lm.GetState(a.name) != StateStopped || lm.GetState(b.name) != StateStopped {
		t.Fatal("expected both services to report stopped")
	}
}

func TestLifecycleManagerStopAllSkipsNonRunningServices(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	failing := &fakeService{name: "failing", startErr: errors.New("boom")}
	_ = lm.Register(failing, 1)
	if errs := lm.StartAll(); len(errs) == 0 {
		t.Fatal("expected a start error")
	}
	if errs := lm.StopAll(); len(errs) != 0 {
		t.Fatalf("expected no stop errors for a service that never reached running, got %v", errs)
	}
	if failing.stopped {
		t.Fatal("a service that failed to start must not have Stop called")
	}
}

func TestLifecycleManagerStopAllReportsTimeout(t *testing.T) {
	cfg := LifecycleConfig{ShutdownTimeout: 5 * time.Millisecond, MaxServices: 8}
	lm := NewLifecycleManager(cfg)
	slow := &fakeService{name: "slow", stopDelay: 50 * time.Millisecond}
	_ = lm.Register(slow, 1)
	if errs := lm.StartAll(); len(errs) != 0 {
		t.Fatalf("unexpected start errors: %v", errs)
	}

	errs := lm.StopAll()
	if len(errs) == 0 {
		t.Fatal("expected a timeout error when a service outlives ShutdownTimeout")
	}
}

func TestLifecycleManagerHealthCheckReflectsState(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	svc := &fakeService{name: "svc"}
	_ = lm.Register(svc, 1)
	if health := lm.HealthCheck(); health["svc"] {
		t.Fatal("a registered-but-not-started service should report unhealthy")
	}
	_ = lm.StartAll()
	if health := lm.HealthCheck(); !health["svc"] {
		t.Fatal("a running service should report healthy")
	}
}

func TestLifecycleManagerGetStateUnknownServiceIsFailed(t *testing.T) {
	lm := NewLifecycleManager(DefaultLifecycleConfig())
	if lm.GetState("nonexistent") != StateFailed {
		t.Fatal("expected StateFailed for an unregistered service name")
	}
}
