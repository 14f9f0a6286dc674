package classifier

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sashko-guz/spacer/internal/storage"
)

// Resolver returns the backend for a location. *storage.Registry implements it.
type Resolver interface {
	ResolveLocation(loc storage.Location) (storage.Backend, error)
}

// Store encodes clf with codec and writes it to loc. A nil codec uses the
// default one.
func Store(ctx context.Context, resolver Resolver, codec *Codec, loc storage.Location, clf *Classifier) error {
	if codec == nil {
		codec = defaultCodec
	}
	loc = loc.Normalize()

	backend, err := resolver.ResolveLocation(loc)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := codec.Encode(&buf, clf); err != nil {
		return err
	}
	if err := backend.Store(ctx, loc.Key, buf.Bytes()); err != nil {
		return fmt.Errorf("store classifier at %s: %w", loc, err)
	}
	return nil
}

// Load reads and decodes the classifier at loc, bypassing any cache.
func Load(ctx context.Context, resolver Resolver, codec *Codec, loc storage.Location) (*Classifier, error) {
	if codec == nil {
		codec = defaultCodec
	}
	loc = loc.Normalize()

	backend, err := resolver.ResolveLocation(loc)
	if err != nil {
		return nil, err
	}

	data, err := backend.Load(ctx, loc.Key)
	if err != nil {
		return nil, fmt.Errorf("load classifier from %s: %w", loc, err)
	}

	clf, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode classifier from %s: %w", loc, err)
	}
	return clf, nil
}
