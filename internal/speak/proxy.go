package speak

import (
	"sync"

	"github.com/antiphonlabs/antiphon/pkg/types"
)

// AppenderProxy is a late-bound [Appender]. The driver is built before the
// orchestrator that fans its entries out, so the wiring builds the driver
// against a proxy and binds the real sink afterwards.
type AppenderProxy struct {
	mu   sync.Mutex
	sink Appender
}

// Bind sets the target sink. Entries appended before Bind are returned
// unchanged and not delivered anywhere.
func (p *AppenderProxy) Bind(sink Appender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Append implements [Appender] by delegating to the bound sink.
func (p *AppenderProxy) Append(entry types.TranscriptEntry) types.TranscriptEntry {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return entry
	}
	return sink.Append(entry)
}

var _ Appender = (*AppenderProxy)(nil)
