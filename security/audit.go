package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// Account identifiers are hashed before logging so audit trails can correlate
// events for a user without recording who the user is.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type          string
	HomeAccountID string
	ClientID      string
	Details       map[string]any
	Timestamp     time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"home_account_id_hash", hashForLogging(event.HomeAccountID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenAcquired logs a successful token acquisition from any flow
func (a *Auditor) LogTokenAcquired(flow, homeAccountID, clientID, scope string) {
	a.LogEvent(Event{
		Type:          "token_acquired",
		HomeAccountID: homeAccountID,
		ClientID:      clientID,
		Details: map[string]any{
			"flow":  flow,
			"scope": scope,
		},
	})
}

// LogSilentMiss logs a silent acquisition that found nothing usable anywhere
func (a *Auditor) LogSilentMiss(homeAccountID, clientID, scope string) {
	a.LogEvent(Event{
		Type:          "silent_miss",
		HomeAccountID: homeAccountID,
		ClientID:      clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogAccountRemoved logs a sign-out ("forget me") cascade
func (a *Auditor) LogAccountRemoved(homeAccountID, clientID string, removed int) {
	a.LogEvent(Event{
		Type:          "account_removed",
		HomeAccountID: homeAccountID,
		ClientID:      clientID,
		Details: map[string]any{
			"credentials_removed": removed,
		},
	})
}

// hashForLogging produces a short stable hash of a PII value for correlation
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
