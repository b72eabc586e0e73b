package boxstore

import "errors"

// Error kinds surfaced by the object codecs, per spec.md §7. Checked
// with errors.Is; propagated unwrapped to request handlers, which
// translate them into wire-level error frames.
var (
	ErrBadMagic                = errors.New("boxstore: bad magic")
	ErrBadBackupStoreFile      = errors.New("boxstore: corrupt backup store file")
	ErrFromFileIsIncomplete    = errors.New("boxstore: combine source has non-positive entries")
	ErrOnCombineDifferentFiles = errors.New("boxstore: trailer other_file_id mismatch during combine")
	ErrInvalidFilename         = errors.New("boxstore: invalid backup store filename")
	ErrCouldNotFindEntry       = errors.New("boxstore: could not find entry in directory")
)
