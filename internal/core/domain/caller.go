package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Caller is the validated identity on whose behalf a pipeline operation runs.
// There is no implicit default caller; every entry point must receive one.
type Caller struct {
	UserID string
}

func NewCaller(userID string) (Caller, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Caller{}, WrapError(ErrUnauthorized, "resolve caller", errors.New("missing user id"))
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return Caller{}, WrapError(ErrUnauthorized, "resolve caller", err)
	}
	return Caller{UserID: parsed.String()}, nil
}

func (c Caller) Valid() bool {
	return c.UserID != ""
}
