// Package stdout writes each checkpoint as a JSON line, for a relaying
// process reading the watcher's standard output.
package stdout

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/spi"
)

// Sink encodes {"block":<height>,"hash":"0x.."} lines to a writer
type Sink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var _ spi.CheckpointSink = (*Sink)(nil)

// New creates a Sink writing to w; nil selects os.Stdout
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{enc: json.NewEncoder(w)}
}

func (s *Sink) Record(ctx context.Context, checkpoint core.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.enc.Encode(checkpoint), "failed to write checkpoint")
}
