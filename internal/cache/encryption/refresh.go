package encryption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often the keyset is reloaded to pick up
// rotated keys.
const DefaultRefreshInterval = 15 * time.Minute

// RefreshableAEAD is an AEAD whose keyset is reloaded periodically from its
// source, so keys can rotate without restarting. A failed reload keeps the
// current keyset.
type RefreshableAEAD struct {
	mu      sync.RWMutex
	current tink.AEAD
	source  KeysetSource

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRefreshableAEAD loads the keyset synchronously and starts the refresh
// loop. If the initial load fails the error is returned and no goroutine is
// started. Call Close to stop the loop.
func NewRefreshableAEAD(ctx context.Context, source KeysetSource, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("loading initial AEAD: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &RefreshableAEAD{
		current: initial,
		source:  source,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.refreshLoop(loopCtx, interval)

	return r, nil
}

func load(ctx context.Context, source KeysetSource) (tink.AEAD, error) {
	handle, err := source(ctx)
	if err != nil {
		return nil, err
	}
	return NewAEAD(handle)
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Decrypt(ciphertext, associatedData)
}

// Close stops the refresh loop and waits for it to exit. It is safe to call
// more than once.
func (r *RefreshableAEAD) Close() error {
	r.stopOnce.Do(r.cancel)
	<-r.done
	return nil
}

func (r *RefreshableAEAD) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RefreshableAEAD) refresh(ctx context.Context) {
	next, err := load(ctx, r.source)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("failed to refresh credential cache keyset, continuing with current keyset")
		return
	}

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()

	log.Debug().Msg("credential cache keyset refreshed")
}
