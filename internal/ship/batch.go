package ship

import (
	"time"

	"github.com/groblegark/hookrelay/internal/model"
)

// Batch is one shipping unit bound for the bulk sink. ID is only used for log
// correlation across retries.
type Batch struct {
	ID        string
	Items     []model.CanonicalEvent
	CreatedAt time.Time
}

// SizeBytes is the approximate wire size of the batch.
func (b *Batch) SizeBytes() int {
	total := 0
	for i := range b.Items {
		total += b.Items[i].SizeBytes()
	}
	return total
}
