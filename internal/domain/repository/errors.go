package repository

import "errors"

var (
	// ErrNotFound indica que la clave solicitada no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica que un CAS perdió contra otra escritura.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indica que el backend de persistencia no responde.
	// Es el único error que store.Retrying reintenta.
	ErrUnavailable = errors.New("persistence unavailable")

	// ErrNotLeader indica que la escritura requiere ser líder del cluster raft.
	ErrNotLeader = errors.New("not cluster leader")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnavailable verifica si el error es ErrUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
