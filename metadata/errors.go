package metadata

import "errors"

var errAppNameTooLong = errors.New("metadata: application name exceeds 128 bytes")
