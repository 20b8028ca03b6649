package vdport

import (
	"errors"
	"testing"
)

func TestOnMessageOption(t *testing.T) {
	called := false
	onMessage := func(*Port, Message) Action {
		called = true
		return Disconnect
	}
	opt := OnMessageOption(onMessage)

	var opts options
	opt(&opts)

	if opts.onMessage == nil {
		t.Fatal("onMessage is nil")
	}

	// Call to verify it's the right function
	if opts.onMessage(nil, Message{}) != Disconnect {
		t.Error("onMessage returned the wrong action")
	}
	if !called {
		t.Error("onMessage callback not called")
	}
}

func TestOnDisconnectOption(t *testing.T) {
	var got error
	cause := errors.New("gone")
	opt := OnDisconnectOption(func(_ *Port, err error) {
		got = err
	})

	var opts options
	opt(&opts)

	if opts.onDisconnect == nil {
		t.Fatal("onDisconnect is nil")
	}

	opts.onDisconnect(nil, cause)
	if got != cause {
		t.Errorf("cause = %v, want %v", got, cause)
	}
}

func TestMaxQueueDepthOption(t *testing.T) {
	opt := MaxQueueDepthOption(16)

	var opts options
	opt(&opts)

	if opts.maxQueueDepth != 16 {
		t.Errorf("maxQueueDepth = %d, want 16", opts.maxQueueDepth)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxMessageSize != 4096 {
		t.Errorf("maxMessageSize = %d, want 4096", opts.maxMessageSize)
	}
}

func TestUserDataOption(t *testing.T) {
	opt := UserDataOption("data")

	var opts options
	opt(&opts)

	if opts.userData != "data" {
		t.Errorf("userData = %v, want data", opts.userData)
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	opts := &options{
		onMessage:     func(*Port, Message) Action { return Continue },
		maxQueueDepth: -3,
	}

	if err := checkOptions(opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.maxMessageSize != defaultMaxMessageSize {
		t.Errorf("maxMessageSize = %d, want %d", opts.maxMessageSize, defaultMaxMessageSize)
	}
	if opts.maxQueueDepth != 0 {
		t.Errorf("maxQueueDepth = %d, want 0", opts.maxQueueDepth)
	}
	if opts.logger == nil {
		t.Error("logger should have default value")
	}
}

func TestCheckOptions_MissingOnMessage(t *testing.T) {
	if err := checkOptions(&options{}); err != ErrInvalidOnMessage {
		t.Errorf("expected ErrInvalidOnMessage, got %v", err)
	}
}

func TestAction_String(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{Continue, "continue"},
		{Disconnect, "disconnect"},
		{Action(7), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.action.String(); got != tt.want {
			t.Errorf("Action(%d).String() = %q, want %q", int(tt.action), got, tt.want)
		}
	}
}
