package input

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/blukai/bong/internal/logx"
	"github.com/phuslu/log"
)

// LineSource reads held keys from text, one line per change. It lets the
// headless client be driven from a terminal or a script.
type LineSource struct {
	r      io.Reader
	logger *log.Logger

	mu   sync.Mutex
	keys Keys
}

var _ Source = (*LineSource)(nil)

func NewLineSource(r io.Reader, logger *log.Logger) *LineSource {
	return &LineSource{r: r, logger: logx.OrDiscard(logger)}
}

func (s *LineSource) Keys() Keys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

// Run reads until r is exhausted or ctx is done. A reader that blocks keeps
// Run blocked past cancellation; callers should not wait on it.
func (s *LineSource) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		keys := ParseKeys(scanner.Text())
		s.logger.Debug().Str("line", scanner.Text()).Msg("keys")

		s.mu.Lock()
		s.keys = keys
		s.mu.Unlock()
	}
	return scanner.Err()
}
