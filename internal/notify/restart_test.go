package notify

import (
	"errors"
	"testing"
	"time"
)

func TestRestartDelayBackoff(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: restartBaseDelay},
		{attempt: 1, expected: restartBaseDelay * 2},
		{attempt: 2, expected: restartBaseDelay * 4},
	}

	for _, testCase := range cases {
		if got := restartDelay(testCase.attempt); got != testCase.expected {
			t.Fatalf("attempt %d: expected %s, got %s", testCase.attempt, testCase.expected, got)
		}
	}
}

func TestScheduleRestartSetsTimer(t *testing.T) {
	notifier, err := New()
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.scheduleRestart(errors.New("boom"))

	notifier.restartMutex.Lock()
	timer := notifier.restartTimer
	attempts := notifier.restartAttempts
	notifier.restartMutex.Unlock()

	if attempts != 1 {
		t.Fatalf("expected 1 restart attempt, got %d", attempts)
	}
	if timer == nil {
		t.Fatalf("expected restart timer to be set")
	}
	timer.Stop()
	notifier.restartMutex.Lock()
	notifier.restartTimer = nil
	notifier.restartMutex.Unlock()
}

func TestScheduleRestartSkipsWhenTimerActive(t *testing.T) {
	notifier, err := New()
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	notifier.restartMutex.Lock()
	notifier.restartTimer = timer
	notifier.restartAttempts = 1
	notifier.restartMutex.Unlock()

	notifier.scheduleRestart(errors.New("boom"))

	notifier.restartMutex.Lock()
	attempts := notifier.restartAttempts
	notifier.restartMutex.Unlock()

	if attempts != 1 {
		t.Fatalf("expected restart attempts to remain 1, got %d", attempts)
	}
}

func TestScheduleRestartReportsAfterMaxAttempts(t *testing.T) {
	notifier, err := New()
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	failures := make(chan error, 1)
	notifier.SetErrorHandler(func(err error) {
		select {
		case failures <- err:
		default:
		}
	})

	notifier.restartMutex.Lock()
	notifier.restartAttempts = maxRestartAttempts
	notifier.restartMutex.Unlock()

	cause := errors.New("boom")
	notifier.scheduleRestart(cause)

	select {
	case err := <-failures:
		if !errors.Is(err, cause) {
			t.Fatalf("expected cause %v, got %v", cause, err)
		}
	default:
		t.Fatal("expected error handler to be invoked")
	}
}

func TestPerformRestartResetsAttempts(t *testing.T) {
	notifier, err := New()
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.mutex.Lock()
	notifier.closed = true
	notifier.mutex.Unlock()

	notifier.restartMutex.Lock()
	notifier.restartAttempts = 2
	notifier.restartMutex.Unlock()

	notifier.performRestart()

	notifier.restartMutex.Lock()
	attempts := notifier.restartAttempts
	notifier.restartMutex.Unlock()

	if attempts != 0 {
		t.Fatalf("expected restart attempts to reset, got %d", attempts)
	}
}
