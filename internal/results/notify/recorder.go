package notify

import (
	"sync"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// RecordedResult is a result packet captured by a Recorder.
type RecordedResult struct {
	Packet *model.ResultPacket
	Final  bool
}

// Recorder keeps every packet it is sent in memory so that tests can inspect them. Memory grows with every
// packet; production wiring counts packets with a Counter instead.
type Recorder struct {
	mu            sync.Mutex
	debug         []model.DebugPacket
	securityTypes []model.SecurityTypesPacket
	runtimeErrors []model.RuntimeErrorPacket
	handledErrors []model.HandledErrorPacket
	results       []RecordedResult
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendDebug(_ *runctx.Context, packet model.DebugPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debug = append(r.debug, packet)
	return nil
}

func (r *Recorder) SendSecurityTypes(_ *runctx.Context, packet model.SecurityTypesPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.securityTypes = append(r.securityTypes, packet)
	return nil
}

func (r *Recorder) SendRuntimeError(_ *runctx.Context, packet model.RuntimeErrorPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimeErrors = append(r.runtimeErrors, packet)
	return nil
}

func (r *Recorder) SendHandledError(_ *runctx.Context, packet model.HandledErrorPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handledErrors = append(r.handledErrors, packet)
	return nil
}

func (r *Recorder) SendResult(_ *runctx.Context, packet *model.ResultPacket, final bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, RecordedResult{Packet: packet, Final: final})
	return nil
}

// DebugMessages returns the messages of every debug packet received, in order.
func (r *Recorder) DebugMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.debug))
	for i, p := range r.debug {
		out[i] = p.Message
	}
	return out
}

func (r *Recorder) SecurityTypes() []model.SecurityTypesPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SecurityTypesPacket(nil), r.securityTypes...)
}

func (r *Recorder) RuntimeErrors() []model.RuntimeErrorPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RuntimeErrorPacket(nil), r.runtimeErrors...)
}

func (r *Recorder) HandledErrors() []model.HandledErrorPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.HandledErrorPacket(nil), r.handledErrors...)
}

func (r *Recorder) Results() []RecordedResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedResult(nil), r.results...)
}
