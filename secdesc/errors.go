package secdesc

import (
	"fmt"

	"github.com/ant04x/wimlib/internal/werrors"
)

func errInvalidSecurityID(id int32) error {
	return fmt.Errorf("%w: security id %d out of range", werrors.InvalidMetadataResource, id)
}
