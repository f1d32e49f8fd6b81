package certificates

// StateMachine enforces certificate status transitions.
type StateMachine struct {
	allowedTransitions map[CertificateStatus][]CertificateStatus
}

// NewStateMachine creates the state machine with the allowed transitions.
// Revoked is terminal; rejected ends the approval request but may still be
// revoked for the audit trail.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[CertificateStatus][]CertificateStatus{
			StatusDraft:    {StatusIssued, StatusRevoked},
			StatusPending:  {StatusApproved, StatusRejected, StatusRevoked},
			StatusApproved: {StatusIssued, StatusRevoked},
			StatusRejected: {StatusRevoked},
			StatusIssued:   {StatusRevoked},
			StatusRevoked:  {},
		},
	}
}

// CanTransition checks if a status transition is allowed.
func (sm *StateMachine) CanTransition(from, to CertificateStatus) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine) AllowedTransitions(from CertificateStatus) []CertificateStatus {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return nil
	}
	return allowed
}
