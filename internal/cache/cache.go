// Package cache stores conversion results keyed by a hash of their input.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/pkg/schema"
)

// Cache is a conversion result cache. Implementations are safe for
// concurrent use and store copies, so callers may mutate what they get back.
type Cache interface {
	Get(ctx context.Context, key string) (*schema.ConversionResult, bool, error)
	Set(ctx context.Context, key string, res *schema.ConversionResult) error
	Evict(ctx context.Context, key string) error
}

// Key hashes the input text and normalized layout options together with any
// extra discriminators (for example the conversion source).
func Key(text string, opts layout.Options, extra ...string) string {
	d := xxhash.New()
	_, _ = d.WriteString(opts.Key())
	for _, e := range extra {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(e)
	}
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(text)
	return strconv.FormatUint(d.Sum64(), 16)
}

func encode(res *schema.ConversionResult) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("cache: nil result")
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("cache: encode result: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*schema.ConversionResult, error) {
	var res schema.ConversionResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("cache: decode result: %w", err)
	}
	return &res, nil
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*schema.ConversionResult, bool, error) {
	return nil, false, nil
}
func (Nop) Set(context.Context, string, *schema.ConversionResult) error { return nil }
func (Nop) Evict(context.Context, string) error                         { return nil }
