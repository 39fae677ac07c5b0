package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type InvalidEnumValue struct {
	EnumName string
	IntValue uint8
}

func (e *InvalidEnumValue) Error() string {
	return fmt.Sprintf("Invalid enum value=%d (enum: %s)", e.IntValue, e.EnumName)
}

type MissingFieldError struct {
	MessageName string
	FieldName   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Missing field %s in message type %s", e.FieldName, e.MessageName)
}

type NameCollision struct {
	CollisionContext string
	Name             string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("Name collision for name '%s' in context '%s'", e.Name, e.CollisionContext)
}

// Returned (as a panic value) when reading the newest/oldest entry of an empty ring buffer.
type EmptyBuffer struct {
	Operation string
}

func (e *EmptyBuffer) Error() string {
	return fmt.Sprintf("Cannot %s: buffer is empty", e.Operation)
}

type IndexOutOfRange struct {
	Operation string
	Index     int
	Count     int
}

func (e *IndexOutOfRange) Error() string {
	return fmt.Sprintf("Index %d out of range for %s (count=%d)", e.Index, e.Operation, e.Count)
}

type InvalidCapacity struct {
	Context  string
	Capacity int
}

func (e *InvalidCapacity) Error() string {
	return fmt.Sprintf("Invalid capacity %d for %s, must be positive", e.Capacity, e.Context)
}

type StringTooLong struct {
	Length    int
	MaxLength int
}

func (e *StringTooLong) Error() string {
	return fmt.Sprintf("String of %d bytes exceeds wire limit of %d bytes", e.Length, e.MaxLength)
}

// HandshakeError is surfaced to the caller whenever the connection handshake fails. Stage is
// the name of the connection state the machine was in when the failure happened.
type HandshakeError struct {
	Stage  string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("Connection failed during %s: %s", e.Stage, e.Reason)
}
