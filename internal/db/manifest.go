package db

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// manifestFilename is the small key/value file every database directory
// carries at its root (spec §4.8, §6 directory layout: "<root>/manifest").
const manifestFilename = "manifest"

// formatKey identifies the on-disk entry/index encoding this database was
// created with (spec §3: "two payload encodings exist"); it is not a
// version number, it is the key the manifest checks for a mismatch.
const formatKey = "posdb-packed-v1"

// FormatKey is formatKey, exported so callers outside the package (e.g.
// internal/socket's "create" command, which accepts a database_format
// field per original_source's handleTcpCommandCreate) can validate a
// request against this build's format before opening anything.
const FormatKey = formatKey

// Manifest is the small persistent record identifying a database directory:
// the format identifier it was created with and the byte order its packed
// binary files were written in (spec §4.8: "a small key/value file with the
// format identifier and an endianness marker").
type Manifest struct {
	Key        string `json:"key"`
	Endianness string `json:"endianness"`
}

// nativeEndianness reports the host's byte order, the same distinction the
// spec's binary run/index files and BCGN format are sensitive to (spec §6:
// "all multi-byte integers are big-endian" for BCGN specifically; the
// manifest records the host's order so a directory copied onto a
// differently-ordered host is refused rather than silently misread).
func nativeEndianness() string {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	if buf[0] == 1 {
		return "little"
	}
	return "big"
}

// ValidationResult classifies the outcome of checking an existing
// directory's manifest against the database's own (spec §4.8: "ok /
// key-mismatch / endianness-mismatch / invalid-manifest").
type ValidationResult uint8

const (
	ValidationOK ValidationResult = iota
	ValidationKeyMismatch
	ValidationEndiannessMismatch
	ValidationInvalidManifest
)

func (v ValidationResult) String() string {
	switch v {
	case ValidationOK:
		return "ok"
	case ValidationKeyMismatch:
		return "key-mismatch"
	case ValidationEndiannessMismatch:
		return "endianness-mismatch"
	case ValidationInvalidManifest:
		return "invalid-manifest"
	default:
		return "unknown"
	}
}

// ErrManifestMismatch is returned by Open when an existing directory's
// manifest fails validation; the facade refuses to open it (spec §4.8:
// "the facade refuses to open a mismatched directory").
var ErrManifestMismatch = errors.New("db: manifest mismatch")

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFilename)
}

// expectedManifest is this build's own manifest: the format key it writes
// entries with and the host's native byte order.
func expectedManifest() Manifest {
	return Manifest{Key: formatKey, Endianness: nativeEndianness()}
}

// readManifest loads dir's manifest, or (Manifest{}, false, nil) if none
// exists yet.
func readManifest(dir string) (Manifest, bool, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, true, nil
	}
	return m, true, nil
}

// validate compares a loaded manifest against expected, per spec §4.8's
// four outcomes. present=false (no manifest read) is not itself a
// validation outcome; callers create one before validating.
func validate(loaded Manifest, present bool) ValidationResult {
	if !present || loaded.Key == "" || loaded.Endianness == "" {
		return ValidationInvalidManifest
	}
	if loaded.Key != formatKey {
		return ValidationKeyMismatch
	}
	if loaded.Endianness != nativeEndianness() {
		return ValidationEndiannessMismatch
	}
	return ValidationOK
}

// createOrValidateManifest implements the facade's open-time manifest
// handling: write one if dir is a fresh directory, otherwise validate the
// existing one and fail with ErrManifestMismatch if it disagrees.
func createOrValidateManifest(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "db: mkdir %s", dir)
	}
	loaded, present, err := readManifest(dir)
	if err != nil {
		return errors.Wrapf(err, "db: read manifest %s", dir)
	}
	if !present {
		return writeManifest(dir, expectedManifest())
	}
	result := validate(loaded, present)
	if result != ValidationOK {
		return errors.Wrapf(ErrManifestMismatch, "db: %s: %s", dir, result)
	}
	return nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(manifestPath(dir), data)
}

// writeFileAtomic writes data to path via a temp file + rename, matching
// internal/partition's own atomic-write idiom for the same reason: a crash
// mid-write must never leave a half-written manifest or stats file behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
