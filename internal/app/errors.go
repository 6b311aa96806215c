package app

import "errors"

var (
	// ErrUsernameAndPasswordRequired is returned when a credential field is blank.
	ErrUsernameAndPasswordRequired = errors.New("username and password are required")

	// ErrUsernameTaken is returned when signup targets an existing username.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrUserNotFound and ErrIncorrectPassword are reported verbatim on login,
	// matching the portal client's inline error text.
	ErrUserNotFound      = errors.New("user not found")
	ErrIncorrectPassword = errors.New("incorrect password")

	// ErrYearAndSectionRequired is returned when an upload omits a form field.
	ErrYearAndSectionRequired = errors.New("year and section are required")

	// ErrFileRequired is returned when an upload carries no file part.
	ErrFileRequired = errors.New("no file uploaded")

	// ErrFileNotFound means no metadata record carries the filename.
	ErrFileNotFound = errors.New("file not found")

	// ErrBlobNotFound means the record exists but the blob store has drifted.
	ErrBlobNotFound = errors.New("file not found in storage")

	// ErrNotOwner is returned when a caller targets another admin's file.
	ErrNotOwner = errors.New("forbidden")
)
