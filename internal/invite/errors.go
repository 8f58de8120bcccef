package invite

import "errors"

// Every failure class a caller can act on is a distinct sentinel, except
// decryption: wrong code and tampered ciphertext are deliberately the same
// error so a guesser learns nothing from the failure shape.
var (
	ErrUnsupportedVersion = errors.New("invite envelope version is unsupported")
	ErrMalformed          = errors.New("invite envelope is malformed")
	ErrTTLInvalid         = errors.New("invite ttl must be positive")
	ErrCodeRequired       = errors.New("invite code is required")
	ErrNamespaceRequired  = errors.New("invite namespace is required")
	ErrSignatureInvalid   = errors.New("invite signature is invalid")
	ErrExpired            = errors.New("invite is expired")
	ErrAlreadyUsed        = errors.New("invite is already used")
	ErrDecryptFailed      = errors.New("invite decryption failed")
)
