package services

import (
	"context"
	"time"
)

// PersistTimeout bounds the writes that record work already done, such as an
// alert log row after the email went out.
const PersistTimeout = 10 * time.Second

// Detach keeps ctx's values but drops its cancellation, bounded by timeout.
// A caller that goes away must not abort a send halfway or lose its record.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
