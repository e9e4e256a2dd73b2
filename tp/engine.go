package tp

import (
	"errors"
	"sync"
	"time"
)

// Errors returned by Send or reported through OnError.
var (
	ErrInvalidArgument = errors.New("tp: invalid argument")
	ErrInProgress      = errors.New("tp: send already in progress")
	ErrOverflow        = errors.New("tp: payload exceeds send buffer")

	ErrFlowControlTimeout = errors.New("tp: flow control not received in time")
	ErrConsecutiveTimeout = errors.New("tp: consecutive frame not received in time")
	ErrWrongSequence      = errors.New("tp: consecutive frame out of sequence")
	ErrRemoteOverflow     = errors.New("tp: receiver reported overflow")
	ErrWaitLimit          = errors.New("tp: too many flow control wait frames")
)

// Options holds protocol tuning parameters. The zero value selects the
// defaults applied by New.
type Options struct {
	// BlockSize is the number of consecutive frames the peer may send before
	// it must wait for our next flow control frame. 0 means no limit.
	BlockSize uint8

	// STmin is the raw separation-time byte advertised to the peer
	// (0x00-0x7F milliseconds, 0xF1-0xF9 hundreds of microseconds).
	STmin byte

	// WFTMax is the number of flow control "wait" frames tolerated from the
	// peer before the transmission is aborted. 0 applies the default of 8.
	WFTMax int

	// FCTimeout bounds the wait for the peer's flow control frame (N_Bs).
	// 0 applies the ISO-recommended default of 1s.
	FCTimeout time.Duration

	// CFTimeout bounds the wait for the peer's next consecutive frame (N_Cr).
	// 0 applies the ISO-recommended default of 1s.
	CFTimeout time.Duration

	// Padding, if non-nil, pads every transmitted frame to 8 bytes with the
	// given byte value.
	Padding *byte
}

func (o Options) withDefaults() Options {
	if o.WFTMax == 0 {
		o.WFTMax = 8
	}
	if o.FCTimeout == 0 {
		o.FCTimeout = time.Second
	}
	if o.CFTimeout == 0 {
		o.CFTimeout = time.Second
	}
	return o
}

// Config wires an Engine to its collaborators. SendFrame, SendBuffer and
// RecvBuffer are required; the remaining fields are optional.
type Config struct {
	// SendID is the arbitration id used for every frame the engine transmits
	// (data frames and flow control alike).
	SendID uint32

	// SendBuffer and RecvBuffer hold outbound payloads being segmented and
	// inbound payloads being reassembled. Their capacities bound the largest
	// message in each direction and are fixed for the engine's lifetime.
	// An empty SendBuffer makes the endpoint listen-only: every Send is
	// rejected with ErrOverflow, while reception works normally.
	SendBuffer []byte
	RecvBuffer []byte

	// SendFrame transmits one frame of at most 8 bytes. It is invoked
	// synchronously from Send, Deliver and Poll and must not call back into
	// any Engine.
	SendFrame func(id uint32, data []byte) error

	// Now is the time source for pacing and timeouts. Defaults to time.Now.
	Now func() time.Time

	// OnSendComplete fires when the final frame of an outbound message has
	// been handed to SendFrame. May fire synchronously inside Send or Poll.
	OnSendComplete func(size int)

	// OnRecvComplete fires when an inbound message is fully reassembled.
	// data is the message stored in RecvBuffer; announced is the total length
	// the sender declared. announced > len(data) means the message did not
	// fit in RecvBuffer and was truncated during assembly.
	OnRecvComplete func(data []byte, announced int)

	// OnError fires on protocol failures (timeouts, sequence errors,
	// remote overflow). The affected transfer is abandoned.
	OnError func(err error)

	Options Options
}

type txState uint8

const (
	txIdle txState = iota
	txWaitFC
	txSending
)

// Engine is one ISO-TP connection endpoint. All methods are safe for
// concurrent use; internally a single mutex serializes the state machine, so
// callbacks fire with that mutex held.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	opt Options

	scratch [8]byte // frame build area, guarded by mu

	// Transmit side.
	txState    txState
	txLen      int // total outbound message length
	txOff      int // bytes already transmitted
	txSN       byte
	txDeadline time.Time // flow control deadline while in txWaitFC
	txNextCF   time.Time // earliest time the next consecutive frame may go out
	peerBudget int       // frames left in the current block, -1 when unlimited
	peerSTmin  time.Duration
	wftCount   int

	// Receive side.
	rxActive    bool
	rxAnnounced int // length declared in the first frame
	rxCount     int // payload bytes consumed so far (including discarded)
	rxStored    int // payload bytes retained in RecvBuffer
	rxSN        byte
	rxDeadline  time.Time
	rxBudget    int // consecutive frames until our next flow control is due
}

// New validates cfg and returns a ready Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.SendFrame == nil || len(cfg.RecvBuffer) == 0 {
		return nil, ErrInvalidArgument
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, opt: cfg.Options.withDefaults()}, nil
}

// Send initiates transmission of payload. It never blocks: single-frame
// payloads complete synchronously (OnSendComplete fires before Send returns),
// multi-frame payloads are segmented by subsequent Deliver/Poll calls.
//
// Send rejects immediately with ErrInProgress while a previous message is
// still in flight, and with ErrOverflow when payload exceeds the send buffer
// or the 12-bit first-frame length field.
func (e *Engine) Send(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(payload) == 0 {
		return ErrInvalidArgument
	}
	if e.txState != txIdle {
		return ErrInProgress
	}
	if len(payload) > len(e.cfg.SendBuffer) || len(payload) > maxMessageLen {
		return ErrOverflow
	}

	if len(payload) <= maxSingleLen {
		if err := e.transmit(appendSingle(e.scratch[:0], payload)); err != nil {
			return err
		}
		e.notifySendComplete(len(payload))
		return nil
	}

	n := copy(e.cfg.SendBuffer, payload)
	e.txLen = n
	if err := e.transmit(appendFirst(e.scratch[:0], n, e.cfg.SendBuffer[:firstHeadLen])); err != nil {
		return err
	}
	e.txOff = firstHeadLen
	e.txSN = 1
	e.wftCount = 0
	e.txState = txWaitFC
	e.txDeadline = e.cfg.Now().Add(e.opt.FCTimeout)
	return nil
}

// Deliver feeds one inbound frame payload (at most 8 bytes) into the state
// machine. It may synchronously transmit a reply frame (flow control) and may
// fire any completion notification.
func (e *Engine) Deliver(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return
	}
	switch data[0] >> 4 {
	case pciSingle:
		e.handleSingle(data)
	case pciFirst:
		e.handleFirst(data)
	case pciConsecutive:
		e.handleConsecutive(data)
	case pciFlowControl:
		e.handleFlowControl(data)
	}
}

// Poll advances protocol time: it paces outbound consecutive frames by the
// peer's STmin and detects flow control (N_Bs) and consecutive frame (N_Cr)
// timeouts. It is intended to be called on a fixed period independent of
// frame arrival.
func (e *Engine) Poll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()
	switch e.txState {
	case txWaitFC:
		if now.After(e.txDeadline) {
			e.abortTx(ErrFlowControlTimeout)
		}
	case txSending:
		for e.txState == txSending && !e.txNextCF.After(now) {
			e.sendNextConsecutive(now)
		}
	}
	if e.rxActive && now.After(e.rxDeadline) {
		e.rxActive = false
		e.notifyError(ErrConsecutiveTimeout)
	}
}

// Transmitting reports whether an outbound message is still in flight.
func (e *Engine) Transmitting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txState != txIdle
}

func (e *Engine) handleSingle(data []byte) {
	n := int(data[0] & 0x0F)
	if n == 0 || n > len(data)-1 {
		return
	}
	// A single frame preempts any reassembly in progress, per ISO 15765-2.
	e.rxActive = false
	stored := copy(e.cfg.RecvBuffer, data[1:1+n])
	e.notifyRecvComplete(e.cfg.RecvBuffer[:stored], n)
}

func (e *Engine) handleFirst(data []byte) {
	if len(data) < 2 {
		return
	}
	announced := int(data[0]&0x0F)<<8 | int(data[1])
	if announced <= maxSingleLen {
		return
	}
	head := data[2:]
	e.rxAnnounced = announced
	e.rxStored = copy(e.cfg.RecvBuffer, head)
	e.rxCount = len(head)
	e.rxSN = 1
	e.rxActive = true
	e.rxBudget = int(e.opt.BlockSize)
	if err := e.transmit(appendFlowControl(e.scratch[:0], fsContinueToSend, e.opt.BlockSize, e.opt.STmin)); err != nil {
		e.rxActive = false
		e.notifyError(err)
		return
	}
	e.rxDeadline = e.cfg.Now().Add(e.opt.CFTimeout)
}

func (e *Engine) handleConsecutive(data []byte) {
	if !e.rxActive {
		return
	}
	if sn := data[0] & 0x0F; sn != e.rxSN {
		e.rxActive = false
		e.notifyError(ErrWrongSequence)
		return
	}
	e.rxSN = (e.rxSN + 1) & 0x0F

	chunk := data[1:]
	if remaining := e.rxAnnounced - e.rxCount; len(chunk) > remaining {
		chunk = chunk[:remaining]
	}
	e.rxStored += copy(e.cfg.RecvBuffer[e.rxStored:], chunk)
	e.rxCount += len(chunk)

	if e.rxCount >= e.rxAnnounced {
		e.rxActive = false
		e.notifyRecvComplete(e.cfg.RecvBuffer[:e.rxStored], e.rxAnnounced)
		return
	}
	e.rxDeadline = e.cfg.Now().Add(e.opt.CFTimeout)
	if e.opt.BlockSize > 0 {
		e.rxBudget--
		if e.rxBudget == 0 {
			e.rxBudget = int(e.opt.BlockSize)
			if err := e.transmit(appendFlowControl(e.scratch[:0], fsContinueToSend, e.opt.BlockSize, e.opt.STmin)); err != nil {
				e.rxActive = false
				e.notifyError(err)
			}
		}
	}
}

func (e *Engine) handleFlowControl(data []byte) {
	if e.txState != txWaitFC || len(data) < 3 {
		return
	}
	switch data[0] & 0x0F {
	case fsContinueToSend:
		if bs := int(data[1]); bs == 0 {
			e.peerBudget = -1
		} else {
			e.peerBudget = bs
		}
		e.peerSTmin = decodeSTmin(data[2])
		e.txState = txSending
		e.txNextCF = e.cfg.Now()
	case fsWait:
		e.wftCount++
		if e.wftCount > e.opt.WFTMax {
			e.abortTx(ErrWaitLimit)
			return
		}
		e.txDeadline = e.cfg.Now().Add(e.opt.FCTimeout)
	case fsOverflow:
		e.abortTx(ErrRemoteOverflow)
	}
}

func (e *Engine) sendNextConsecutive(now time.Time) {
	end := e.txOff + maxChunkLen
	if end > e.txLen {
		end = e.txLen
	}
	if err := e.transmit(appendConsecutive(e.scratch[:0], e.txSN, e.cfg.SendBuffer[e.txOff:end])); err != nil {
		e.abortTx(err)
		return
	}
	e.txOff = end
	e.txSN = (e.txSN + 1) & 0x0F

	if e.txOff >= e.txLen {
		e.txState = txIdle
		e.notifySendComplete(e.txLen)
		return
	}
	if e.peerBudget > 0 {
		e.peerBudget--
		if e.peerBudget == 0 {
			e.txState = txWaitFC
			e.txDeadline = now.Add(e.opt.FCTimeout)
			return
		}
	}
	e.txNextCF = now.Add(e.peerSTmin)
}

// transmit hands one built frame to the SendFrame callback, applying padding
// when configured.
func (e *Engine) transmit(frame []byte) error {
	if e.opt.Padding != nil {
		for len(frame) < 8 {
			frame = append(frame, *e.opt.Padding)
		}
	}
	return e.cfg.SendFrame(e.cfg.SendID, frame)
}

func (e *Engine) abortTx(err error) {
	e.txState = txIdle
	e.notifyError(err)
}

func (e *Engine) notifySendComplete(n int) {
	if e.cfg.OnSendComplete != nil {
		e.cfg.OnSendComplete(n)
	}
}

func (e *Engine) notifyRecvComplete(data []byte, announced int) {
	if e.cfg.OnRecvComplete != nil {
		e.cfg.OnRecvComplete(data, announced)
	}
}

func (e *Engine) notifyError(err error) {
	if e.cfg.OnError != nil {
		e.cfg.OnError(err)
	}
}
