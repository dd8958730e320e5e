package quota

import "errors"

// ErrUnknownCategory is returned when a ledger update names a category outside the enumeration.
var ErrUnknownCategory = errors.New("unknown category")
