package notify

import (
	"testing"
	"time"
)

func TestNewTelegram_Validation(t *testing.T) {
	if _, err := NewTelegram("", "42"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewTelegram("123:abc", ""); err == nil {
		t.Error("expected error for empty chat id")
	}
}

func TestCrashMessage(t *testing.T) {
	got := crashMessage(1, 5*time.Second)
	want := "botminder: bot exited with code 1, relaunching in 5s"
	if got != want {
		t.Errorf("crashMessage = %q, want %q", got, want)
	}
}
