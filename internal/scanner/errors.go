package scanner

import "errors"

var (
	// ErrInvalidModuleID is returned by validateModuleID when a module's
	// directory name does not match the required identifier pattern, and
	// logged by Scan when module.prop names a different id than the
	// directory.
	ErrInvalidModuleID = errors.New("scanner: invalid module identifier")
	// ErrReservedModuleID is returned by validateModuleID for the "lost+found" and
	// tool-reserved directory names.
	ErrReservedModuleID = errors.New("scanner: reserved module identifier")
)
