package recovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// KeyVersion identifica una versión de clave (major.minor.patch) con
// vencimiento opcional.
type KeyVersion struct {
	Major, Minor, Patch uint32
	ExpiresAt           *time.Time
}

// ParseKeyVersion acepta "1.2.3".
func ParseKeyVersion(s string) (KeyVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return KeyVersion{}, fmt.Errorf("recovery: key version %q is not major.minor.patch", s)
	}
	var n [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return KeyVersion{}, fmt.Errorf("recovery: key version %q: %w", s, err)
		}
		n[i] = uint32(v)
	}
	return KeyVersion{Major: n[0], Minor: n[1], Patch: n[2]}, nil
}

func (v KeyVersion) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Compare ordena por major, minor, patch; ignora vencimiento.
func (v KeyVersion) Compare(o KeyVersion) int {
	switch {
	case v.Major != o.Major:
		return cmpU32(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpU32(v.Minor, o.Minor)
	default:
		return cmpU32(v.Patch, o.Patch)
	}
}

func cmpU32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (v KeyVersion) sameVersion(o KeyVersion) bool { return v.Compare(o) == 0 }

// Expired reporta si la versión venció en now.
func (v KeyVersion) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && now.After(*v.ExpiresAt)
}

// KeyStatus del ciclo de vida de una clave versionada.
type KeyStatus string

const (
	KeyActive     KeyStatus = "active"
	KeyMigrating  KeyStatus = "migrating"
	KeyDeprecated KeyStatus = "deprecated"
	KeyRevoked    KeyStatus = "revoked"
	KeyExpired    KeyStatus = "expired"
)

// VersionedKey es la clave vigente y las versiones que todavía puede descifrar.
type VersionedKey struct {
	Version  KeyVersion
	Status   KeyStatus
	Decrypts []KeyVersion
}

// CanDecrypt reporta si la clave descifra datos de la versión v.
func (k VersionedKey) CanDecrypt(v KeyVersion) bool {
	if k.Version.sameVersion(v) {
		return true
	}
	return slices.ContainsFunc(k.Decrypts, v.sameVersion)
}

// Migration es el estado de una migración de claves en curso.
type Migration struct {
	ID           string
	BatchesDone  int
	BatchesTotal int
	// DeviceBound indica que la clave nueva quedó atada al hardware del dispositivo.
	DeviceBound bool
}

func (m *Migration) Complete() bool {
	return m != nil && m.BatchesTotal > 0 && m.BatchesDone >= m.BatchesTotal
}

// Motivos de bloqueo de un rollback.
const (
	ReasonMigrationNotFound = "migration not found"
	ReasonMigrationComplete = "migration already complete"
	ReasonDeviceBound       = "migration is device bound"
	ReasonCannotDecrypt     = "current key cannot decrypt target version data"
	ReasonVersionExpired    = "target version is expired"
	ReasonKeyNotMigrating   = "current key is not migrating"
)

// RollbackDecision es el resultado de ValidateRollbackSafety.
type RollbackDecision struct {
	Safe    bool     `json:"safe"`
	Reasons []string `json:"reasons,omitempty"`
}

// ValidateRollbackSafety decide si se puede volver a target. Se bloquea si
// la clave actual no descifra datos de target, si target venció, o si la
// migración terminó o quedó atada al dispositivo. Se reportan todos los
// motivos, no sólo el primero.
func ValidateRollbackSafety(current VersionedKey, target KeyVersion, migration *Migration, now time.Time) RollbackDecision {
	var reasons []string
	if migration == nil {
		reasons = append(reasons, ReasonMigrationNotFound)
	} else {
		if migration.Complete() {
			reasons = append(reasons, ReasonMigrationComplete)
		}
		if migration.DeviceBound {
			reasons = append(reasons, ReasonDeviceBound)
		}
	}
	if current.Status != KeyMigrating {
		reasons = append(reasons, ReasonKeyNotMigrating)
	}
	if !current.CanDecrypt(target) {
		reasons = append(reasons, ReasonCannotDecrypt)
	}
	if target.Expired(now) {
		reasons = append(reasons, ReasonVersionExpired)
	}
	return RollbackDecision{Safe: len(reasons) == 0, Reasons: reasons}
}
