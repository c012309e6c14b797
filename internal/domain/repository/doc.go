// Package repository define el modelo de dominio del engine (grants, tokens,
// sesiones CIBA, clients, claves) y el contrato de persistencia Store.
//
// Todo el estado durable vive en un Store compartido entre instancias:
//
//	┌─────────────────────────────────────────────────────┐
//	│   grant.Registry / ciba.Coordinator / revocation    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│   repository.Store  (get/put/cas/delete/find)       │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	     ┌─────────────┬────┴────────┬─────────────┐
//	     ▼             ▼             ▼             ▼
//	  memory         redis       postgres        raft
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - Las claves tienen la forma "<namespace>/<id>" (ver keys.go).
//   - Las mutaciones de estado usan CASPut sobre Entry.Version.
package repository
