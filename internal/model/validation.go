package model

type ValidationStatus string

const (
	ValidationValid    ValidationStatus = "valid"
	ValidationNotFound ValidationStatus = "not_found"
	ValidationInactive ValidationStatus = "inactive"
	ValidationExpired  ValidationStatus = "expired"
	ValidationInvalid  ValidationStatus = "invalid"
)

// SessionValidation is the outcome of looking up a session token. It is a
// value, never an error: every non-valid status is terminal for the token.
type SessionValidation struct {
	Status   ValidationStatus `json:"status"`
	UserID   int64            `json:"userId,omitempty"`
	Username string           `json:"username,omitempty"`
	RoleName string           `json:"role,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

func (v SessionValidation) IsValid() bool {
	return v.Status == ValidationValid
}

func (v SessionValidation) IsExpired() bool {
	return v.Status == ValidationExpired
}

func ValidSession(userID int64, username, roleName string) SessionValidation {
	return SessionValidation{
		Status:   ValidationValid,
		UserID:   userID,
		Username: username,
		RoleName: roleName,
	}
}

func NotFoundSession() SessionValidation {
	return SessionValidation{Status: ValidationNotFound, Reason: "not found"}
}

func InactiveSession() SessionValidation {
	return SessionValidation{Status: ValidationInactive, Reason: "inactive"}
}

func ExpiredSession() SessionValidation {
	return SessionValidation{Status: ValidationExpired, Reason: "expired"}
}

func IdleSession() SessionValidation {
	return SessionValidation{Status: ValidationExpired, Reason: "idle timeout"}
}

func InvalidSession(reason string) SessionValidation {
	return SessionValidation{Status: ValidationInvalid, Reason: reason}
}
