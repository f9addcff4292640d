package models

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrLanguageNotFound    = errors.New("language not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrTranscriptNotFound  = errors.New("transcript not found")
	ErrTranslationNotFound = errors.New("translation not found")
	ErrDuplicateUser       = errors.New("user already exists")
)
