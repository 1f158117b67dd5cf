package memory

import (
	"errors"
	"fmt"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

var (
	errDuplicateKey = errors.New("duplicate primary key")
	errHashTaken    = errors.New("content hash already stored")
)

func transitionError(from, to domain.JobStatus) error {
	return fmt.Errorf("job is %s, cannot move to %s", from, to)
}
