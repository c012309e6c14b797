package ciba

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownSubject indica que el login_hint no corresponde a ningún usuario.
var ErrUnknownSubject = errors.New("ciba: unknown subject")

// Subject es el usuario final identificado por el login_hint.
type Subject struct {
	ID    string
	Email string
	// UserCode es el secreto que el usuario comparte con el cliente, si existe.
	UserCode string
}

// SubjectResolver traduce un login_hint al usuario final.
type SubjectResolver interface {
	ResolveHint(ctx context.Context, hint string) (*Subject, error)
}

// HintAsSubject usa el hint como id del usuario; si parece un email también
// lo usa como destino de la notificación.
type HintAsSubject struct{}

func (HintAsSubject) ResolveHint(_ context.Context, hint string) (*Subject, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return nil, ErrUnknownSubject
	}
	s := &Subject{ID: hint}
	if strings.Contains(hint, "@") {
		s.Email = hint
	}
	return s, nil
}

// StaticSubjects resuelve contra un mapa fijo (tests, despliegues chicos).
type StaticSubjects map[string]Subject

func (m StaticSubjects) ResolveHint(_ context.Context, hint string) (*Subject, error) {
	s, ok := m[hint]
	if !ok {
		return nil, ErrUnknownSubject
	}
	return &s, nil
}
