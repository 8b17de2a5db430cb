// Package gwerrors centralizes the gateway's error-kind taxonomy so the
// pipeline and its collaborators can classify a failure with errors.Is
// without importing every leaf package that can produce one.
package gwerrors

import "errors"

var (
	// ErrParse indicates malformed wire bytes: too short, or a bad length field.
	ErrParse = errors.New("protogate: parse error")

	// ErrInvalidRoute indicates a self-translation was requested (source == target).
	ErrInvalidRoute = errors.New("protogate: invalid route")

	// ErrNoRoute indicates no translation rule matched a message.
	ErrNoRoute = errors.New("protogate: no route")

	// ErrNoTransform indicates a Custom transform named a module that isn't registered.
	ErrNoTransform = errors.New("protogate: no such transform module")

	// ErrKeyError indicates a key-store failure: missing id, wrong type,
	// expired key, or invalid size on import.
	ErrKeyError = errors.New("protogate: key error")

	// ErrEncryptionFailed indicates an AEAD encryption operation failed.
	ErrEncryptionFailed = errors.New("protogate: encryption failed")

	// ErrDecryptionFailed indicates AEAD tag mismatch, wrong key, or a malformed ciphertext.
	ErrDecryptionFailed = errors.New("protogate: decryption failed")

	// ErrAuthenticationFailed indicates a signature failed to verify.
	ErrAuthenticationFailed = errors.New("protogate: authentication failed")

	// ErrConfig indicates a configuration validation failure at load time.
	ErrConfig = errors.New("protogate: invalid configuration")

	// ErrChannelClosed indicates the pipeline's command channel is no longer accepting work.
	ErrChannelClosed = errors.New("protogate: channel closed")

	// ErrNotRunning indicates a submit was attempted against a stopped pipeline.
	ErrNotRunning = errors.New("protogate: pipeline not running")
)
