package model

import "github.com/google/uuid"

func newUID() string {
	return uuid.NewString()
}
