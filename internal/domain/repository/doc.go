// Package repository define los contratos de persistencia de vaultcore:
// usuarios y registros OPAQUE, credenciales, sesiones, dispositivos,
// material de recuperación, contadores de throttling y la cadena de audit.
//
// Los servicios (opaque, credential, device, recovery, session, audit)
// dependen sólo de estas interfaces; los drivers viven en
// internal/store/adapters/{pg,sqlite,memory}.
//
// Reglas para un driver:
//   - ctx es siempre el primer parámetro.
//   - Las transiciones de estado son compare-and-set: si el estado guardado
//     no coincide con el esperado se devuelve ErrPreconditionFailed y nunca
//     se pisa la escritura ganadora.
//   - Append de audit es atómico respecto de la cabeza de la cadena por usuario.
package repository
