package mediavault

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ValidationError represents a configuration or parameter validation error
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// EncryptionError represents a content stream encryption or decryption failure
type EncryptionError struct {
	Operation string // "encrypt" or "decrypt"
	Path      string // Physical path, if known
	ChunkIdx  uint32 // Chunk counter at the point of failure
	Message   string
	Err       error
}

func (e *EncryptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s error: %s (chunk %d): %s", e.Operation, e.Path, e.ChunkIdx, e.Message)
	}
	return fmt.Sprintf("%s error (chunk %d): %s", e.Operation, e.ChunkIdx, e.Message)
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}

// IOError represents a storage I/O error
type IOError struct {
	Operation string // "read", "write", "open", "rename", "remove", etc.
	Path      string
	Message   string
	Err       error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("io error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("io error: %s: %s", e.Operation, e.Message)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CorruptionError reports persisted vault data that exists but cannot be
// decrypted or parsed after a successful unlock. The data is left in place.
type CorruptionError struct {
	Path    string
	Message string
	Err     error
}

func (e *CorruptionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("corruption error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("corruption error: %s", e.Message)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned for a wrong password and for any AEAD tag
// mismatch. The message never says which one it was.
type AuthenticationError struct {
	Path    string
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("authentication error: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// StateError reports use of a wiped buffer or a closed store or vault.
type StateError struct {
	Operation string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: %s: %v", e.Operation, e.Err)
}

// Unwrap matches both ErrInvalidState and the specific cause.
func (e *StateError) Unwrap() []error {
	return []error{ErrInvalidState, e.Err}
}

// NameCollisionError is returned when no unused physical name could be found.
type NameCollisionError struct {
	Attempts int
	Err      error
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name collision: no free physical name after %d attempts", e.Attempts)
}

func (e *NameCollisionError) Unwrap() error {
	return e.Err
}

// Sentinel errors
var (
	ErrAuthFailed         = errors.New("authentication failed - data may be corrupted or tampered")
	ErrCorruptIndex       = errors.New("vault index is corrupt")
	ErrNameCollision      = errors.New("physical name collision")
	ErrInvalidState       = errors.New("invalid state")
	ErrBufferWiped        = errors.New("secure buffer has been wiped")
	ErrStoreClosed        = errors.New("index store is not open")
	ErrVaultClosed        = errors.New("vault is closed")
	ErrTruncatedStream    = errors.New("stream ended before the final chunk")
	ErrStreamTooLong      = errors.New("stream exceeds the maximum chunk count")
	ErrEntryExists        = errors.New("entry already exists")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrInvalidHeader      = errors.New("invalid header")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrUnsupportedCipher  = errors.New("unsupported cipher suite")
	ErrParamsMismatch     = errors.New("verifier was created with different derivation parameters")
	ErrNotAVault          = errors.New("directory is not a vault")
)

// Helper functions for creating structured errors

// NewValidationError creates a new validation error
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewEncryptionError creates a new encryption error
func NewEncryptionError(operation, path string, chunk uint32, err error) error {
	return &EncryptionError{
		Operation: operation,
		Path:      path,
		ChunkIdx:  chunk,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewIOError creates a new I/O error
func NewIOError(operation, path string, err error) error {
	return &IOError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewCorruptionError creates a corruption error wrapping ErrCorruptIndex and
// the underlying cause.
func NewCorruptionError(path string, cause error) error {
	msg := ErrCorruptIndex.Error()
	if cause != nil {
		msg = cause.Error()
	}
	return &CorruptionError{
		Path:    path,
		Message: msg,
		Err:     errors.Join(ErrCorruptIndex, cause),
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(path string, err error) error {
	return &AuthenticationError{
		Path:    path,
		Message: err.Error(),
		Err:     err,
	}
}

// NewChunkAuthenticationError reports a content chunk whose tag did not
// verify
func NewChunkAuthenticationError(chunk uint32) error {
	return &AuthenticationError{
		Message: fmt.Sprintf("chunk %d: %s", chunk, ErrAuthFailed.Error()),
		Err:     ErrAuthFailed,
	}
}

// NewStateError creates a new state error
func NewStateError(operation string, err error) error {
	return &StateError{
		Operation: operation,
		Err:       err,
	}
}

// Error checking helpers

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEncryptionError checks if an error is an encryption error
func IsEncryptionError(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// IsIOError checks if an error is an I/O error
func IsIOError(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// IsCorruptionError checks if an error is a corruption error
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsStateError checks if an error is an invalid state error
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsNameCollisionError checks if an error is a name collision error
func IsNameCollisionError(err error) bool {
	var ne *NameCollisionError
	return errors.As(err, &ne)
}
