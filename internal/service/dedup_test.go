package service

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

func TestDeduplicatorSuppressesRepeatWithinWindow(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	examID := uuid.New()
	now := time.Now()

	v := model.ViolationEvent{Type: "tab_switch", Message: "switched to another tab"}

	if !d.Accept(1, examID, v, now) {
		t.Fatalf("first report should be accepted")
	}
	if d.Accept(1, examID, v, now.Add(10*time.Second)) {
		t.Fatalf("identical report inside the window should be suppressed")
	}
	if !d.Accept(1, examID, v, now.Add(41*time.Second)) {
		t.Fatalf("report after the window elapsed should be accepted")
	}
}

func TestDeduplicatorDistinctTypesBothCount(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	examID := uuid.New()
	now := time.Now()

	if !d.Accept(1, examID, model.ViolationEvent{Type: "tab_switch", Message: "m"}, now) {
		t.Fatalf("tab_switch should be accepted")
	}
	if !d.Accept(1, examID, model.ViolationEvent{Type: "fullscreen_exit", Message: "m"}, now) {
		t.Fatalf("a different type at the same instant should also be accepted")
	}
}

func TestDeduplicatorMatchesOnMessagePrefix(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	examID := uuid.New()
	now := time.Now()

	head := strings.Repeat("a", 48)

	if !d.Accept(1, examID, model.ViolationEvent{Type: "devtools", Message: head + " first"}, now) {
		t.Fatalf("first report should be accepted")
	}
	// Same 48-byte head with a different tail is still the same event.
	if d.Accept(1, examID, model.ViolationEvent{Type: "devtools", Message: head + " second"}, now.Add(time.Second)) {
		t.Fatalf("matching prefix should be treated as a duplicate")
	}
	// A different head is a new event.
	if !d.Accept(1, examID, model.ViolationEvent{Type: "devtools", Message: strings.Repeat("b", 48)}, now.Add(2*time.Second)) {
		t.Fatalf("different prefix should be accepted")
	}
}

func TestDeduplicatorScopedPerPair(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	examID := uuid.New()
	now := time.Now()
	v := model.ViolationEvent{Type: "tab_switch", Message: "m"}

	if !d.Accept(1, examID, v, now) {
		t.Fatalf("user 1 report should be accepted")
	}
	if !d.Accept(2, examID, v, now) {
		t.Fatalf("user 2 report must not be suppressed by user 1's window")
	}
	if !d.Accept(1, uuid.New(), v, now) {
		t.Fatalf("same user on another exam must not be suppressed")
	}
}

func TestDeduplicatorRejectedReportDoesNotExtendWindow(t *testing.T) {
	d := NewDeduplicator(30 * time.Second)
	examID := uuid.New()
	now := time.Now()
	v := model.ViolationEvent{Type: "tab_switch", Message: "m"}

	d.Accept(1, examID, v, now)
	d.Accept(1, examID, v, now.Add(20*time.Second)) // suppressed, not recorded

	// 31s after the accepted report; the suppressed one must not have
	// refreshed the window.
	if !d.Accept(1, examID, v, now.Add(31*time.Second)) {
		t.Fatalf("window should be measured from the accepted report only")
	}
}
