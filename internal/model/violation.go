package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationSeverity grades how serious a reported violation is.
type ViolationSeverity string

const (
	SeverityLow      ViolationSeverity = "LOW"
	SeverityMedium   ViolationSeverity = "MEDIUM"
	SeverityHigh     ViolationSeverity = "HIGH"
	SeverityCritical ViolationSeverity = "CRITICAL"
)

// ViolationEvent is a transient integrity report attached to a session.
// It drives session mutation and broadcast; durable recording happens
// best-effort through the violation log worker.
type ViolationEvent struct {
	SessionID  uuid.UUID         `json:"session_id"`
	Type       string            `json:"type"`
	Severity   ViolationSeverity `json:"severity"`
	Message    string            `json:"message"`
	ReportedAt time.Time         `json:"reported_at"`
}

// ReportViolationRequest is the payload for a client violation report.
type ReportViolationRequest struct {
	Type     string            `json:"type" binding:"required,min=2,max=64"`
	Severity ViolationSeverity `json:"severity" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Message  string            `json:"message" binding:"omitempty,max=1000"`
}
