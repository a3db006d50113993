package core

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict indica que una transición condicional no encontró el estado
	// previo esperado (otro caller ganó la carrera o el estado ya es terminal).
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)
