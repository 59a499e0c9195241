package kafka

import "context"

// Expirer marks tile content stale so the next frame reloads it.
type Expirer interface {
	Expire(uris ...string)
}

// ContentDeleter drops stored payloads for removed content.
type ContentDeleter interface {
	Delete(ctx context.Context, uris ...string) error
}
