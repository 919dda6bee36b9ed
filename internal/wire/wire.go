// Package wire encodes arena operations as compact binary instructions:
// a one byte opcode followed by fixed-width little-endian arguments.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"signalwars/internal/domain"
)

type Opcode uint8

const (
	OpInitializeArena Opcode = iota
	OpRegisterAgent
	OpCreateSeason
	OpEnterSeason
	OpSubmitPrediction
	OpRevealPrediction
	OpResolvePrediction
	OpAwardAchievement
	OpDistributePrizes
	OpCancelSeason
	OpWithdrawTreasury
	OpFundTreasury
	OpDeposit
	OpExpirePrediction
)

var opNames = map[Opcode]string{
	OpInitializeArena:   "initialize_arena",
	OpRegisterAgent:     "register_agent",
	OpCreateSeason:      "create_season",
	OpEnterSeason:       "enter_season",
	OpSubmitPrediction:  "submit_prediction",
	OpRevealPrediction:  "reveal_prediction",
	OpResolvePrediction: "resolve_prediction",
	OpAwardAchievement:  "award_achievement",
	OpDistributePrizes:  "distribute_prizes",
	OpCancelSeason:      "cancel_season",
	OpWithdrawTreasury:  "withdraw_treasury",
	OpFundTreasury:      "fund_treasury",
	OpDeposit:           "deposit",
	OpExpirePrediction:  "expire_prediction",
}

func (o Opcode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// ParseOpcode resolves an opcode by its snake_case name.
func ParseOpcode(name string) (Opcode, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownOpcode, name)
}

var (
	ErrTruncated     = errors.New("wire: truncated instruction")
	ErrTrailingBytes = errors.New("wire: trailing bytes after instruction")
	ErrUnknownOpcode = errors.New("wire: unknown opcode")
)

// Instruction is one encodable arena operation.
type Instruction interface {
	Op() Opcode
	encode(w *writer) error
}

type decoder interface {
	Instruction
	decode(r *reader) error
}

type InitializeArena struct{}

type RegisterAgent struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

type CreateSeason struct {
	EntryFee     uint64 `json:"entry_fee"`
	DurationDays uint64 `json:"duration_days"`
	PrizePoolBps uint16 `json:"prize_pool_bps"`
}

type EnterSeason struct {
	SeasonID   uint64 `json:"season_id"`
	AgentOwner string `json:"agent_owner"`
}

type SubmitPrediction struct {
	SeasonID       uint64      `json:"season_id"`
	PredictionHash domain.Hash `json:"prediction_hash"`
	StakeAmount    uint64      `json:"stake_amount"`
}

type RevealPrediction struct {
	AgentOwner string `json:"agent_owner"`
	SeasonID   uint64 `json:"season_id"`
	Sequence   uint64 `json:"sequence"`
	Plaintext  []byte `json:"plaintext"`
}

type ResolvePrediction struct {
	AgentOwner string `json:"agent_owner"`
	SeasonID   uint64 `json:"season_id"`
	Sequence   uint64 `json:"sequence"`
	WasCorrect bool   `json:"was_correct"`
}

type AwardAchievement struct {
	AgentOwner      string                 `json:"agent_owner"`
	AchievementType domain.AchievementType `json:"achievement_type"`
}

type DistributePrizes struct {
	SeasonID uint64 `json:"season_id"`
}

type CancelSeason struct {
	SeasonID uint64 `json:"season_id"`
}

type WithdrawTreasury struct {
	Amount uint64 `json:"amount"`
}

type FundTreasury struct {
	Amount uint64 `json:"amount"`
}

type Deposit struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

type ExpirePrediction struct {
	AgentOwner string `json:"agent_owner"`
	SeasonID   uint64 `json:"season_id"`
	Sequence   uint64 `json:"sequence"`
}

func (InitializeArena) Op() Opcode   { return OpInitializeArena }
func (RegisterAgent) Op() Opcode     { return OpRegisterAgent }
func (CreateSeason) Op() Opcode      { return OpCreateSeason }
func (EnterSeason) Op() Opcode       { return OpEnterSeason }
func (SubmitPrediction) Op() Opcode  { return OpSubmitPrediction }
func (RevealPrediction) Op() Opcode  { return OpRevealPrediction }
func (ResolvePrediction) Op() Opcode { return OpResolvePrediction }
func (AwardAchievement) Op() Opcode  { return OpAwardAchievement }
func (DistributePrizes) Op() Opcode  { return OpDistributePrizes }
func (CancelSeason) Op() Opcode      { return OpCancelSeason }
func (WithdrawTreasury) Op() Opcode  { return OpWithdrawTreasury }
func (FundTreasury) Op() Opcode      { return OpFundTreasury }
func (Deposit) Op() Opcode           { return OpDeposit }
func (ExpirePrediction) Op() Opcode  { return OpExpirePrediction }

// Encode serializes an instruction with its opcode prefix.
func Encode(in Instruction) ([]byte, error) {
	w := &writer{}
	w.u8(uint8(in.Op()))
	if err := in.encode(w); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", in.Op(), err)
	}
	return w.buf, nil
}

// Decode parses exactly one instruction from data.
func Decode(data []byte) (Instruction, error) {
	r := &reader{buf: data}
	op, err := r.u8()
	if err != nil {
		return nil, err
	}
	in, err := newInstruction(Opcode(op))
	if err != nil {
		return nil, err
	}
	if err := in.decode(r); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", Opcode(op), err)
	}
	if len(r.buf) != r.off {
		return nil, ErrTrailingBytes
	}
	return derefInstruction(in), nil
}

// FromJSON builds the instruction for op from its JSON arguments. Empty
// data yields the zero instruction.
func FromJSON(op Opcode, data []byte) (Instruction, error) {
	in, err := newInstruction(op)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(in); err != nil {
			return nil, fmt.Errorf("wire: %s arguments: %w", op, err)
		}
	}
	return derefInstruction(in), nil
}

func newInstruction(op Opcode) (decoder, error) {
	switch op {
	case OpInitializeArena:
		return &InitializeArena{}, nil
	case OpRegisterAgent:
		return &RegisterAgent{}, nil
	case OpCreateSeason:
		return &CreateSeason{}, nil
	case OpEnterSeason:
		return &EnterSeason{}, nil
	case OpSubmitPrediction:
		return &SubmitPrediction{}, nil
	case OpRevealPrediction:
		return &RevealPrediction{}, nil
	case OpResolvePrediction:
		return &ResolvePrediction{}, nil
	case OpAwardAchievement:
		return &AwardAchievement{}, nil
	case OpDistributePrizes:
		return &DistributePrizes{}, nil
	case OpCancelSeason:
		return &CancelSeason{}, nil
	case OpWithdrawTreasury:
		return &WithdrawTreasury{}, nil
	case OpFundTreasury:
		return &FundTreasury{}, nil
	case OpDeposit:
		return &Deposit{}, nil
	case OpExpirePrediction:
		return &ExpirePrediction{}, nil
	}
	return nil, fmt.Errorf("%w %d", ErrUnknownOpcode, uint8(op))
}

// derefInstruction hands decoded instructions back as values so callers
// can type-switch on the same types they encode.
func derefInstruction(in decoder) Instruction {
	switch v := in.(type) {
	case *InitializeArena:
		return *v
	case *RegisterAgent:
		return *v
	case *CreateSeason:
		return *v
	case *EnterSeason:
		return *v
	case *SubmitPrediction:
		return *v
	case *RevealPrediction:
		return *v
	case *ResolvePrediction:
		return *v
	case *AwardAchievement:
		return *v
	case *DistributePrizes:
		return *v
	case *CancelSeason:
		return *v
	case *WithdrawTreasury:
		return *v
	case *FundTreasury:
		return *v
	case *Deposit:
		return *v
	}
	return in
}

func (InitializeArena) encode(*writer) error  { return nil }
func (*InitializeArena) decode(*reader) error { return nil }

func (in RegisterAgent) encode(w *writer) error {
	if err := w.str(in.Name); err != nil {
		return err
	}
	return w.str(in.Endpoint)
}

func (in *RegisterAgent) decode(r *reader) (err error) {
	if in.Name, err = r.str(); err != nil {
		return err
	}
	in.Endpoint, err = r.str()
	return err
}

func (in CreateSeason) encode(w *writer) error {
	w.u64(in.EntryFee)
	w.u64(in.DurationDays)
	w.u16(in.PrizePoolBps)
	return nil
}

func (in *CreateSeason) decode(r *reader) (err error) {
	if in.EntryFee, err = r.u64(); err != nil {
		return err
	}
	if in.DurationDays, err = r.u64(); err != nil {
		return err
	}
	in.PrizePoolBps, err = r.u16()
	return err
}

func (in EnterSeason) encode(w *writer) error {
	w.u64(in.SeasonID)
	return w.str(in.AgentOwner)
}

func (in *EnterSeason) decode(r *reader) (err error) {
	if in.SeasonID, err = r.u64(); err != nil {
		return err
	}
	in.AgentOwner, err = r.str()
	return err
}

func (in SubmitPrediction) encode(w *writer) error {
	w.u64(in.SeasonID)
	w.raw(in.PredictionHash[:])
	w.u64(in.StakeAmount)
	return nil
}

func (in *SubmitPrediction) decode(r *reader) (err error) {
	if in.SeasonID, err = r.u64(); err != nil {
		return err
	}
	b, err := r.take(len(in.PredictionHash))
	if err != nil {
		return err
	}
	copy(in.PredictionHash[:], b)
	in.StakeAmount, err = r.u64()
	return err
}

func (in RevealPrediction) encode(w *writer) error {
	if err := w.str(in.AgentOwner); err != nil {
		return err
	}
	w.u64(in.SeasonID)
	w.u64(in.Sequence)
	return w.bytes(in.Plaintext)
}

func (in *RevealPrediction) decode(r *reader) (err error) {
	if in.AgentOwner, err = r.str(); err != nil {
		return err
	}
	if in.SeasonID, err = r.u64(); err != nil {
		return err
	}
	if in.Sequence, err = r.u64(); err != nil {
		return err
	}
	in.Plaintext, err = r.bytes()
	return err
}

func (in ResolvePrediction) encode(w *writer) error {
	if err := w.str(in.AgentOwner); err != nil {
		return err
	}
	w.u64(in.SeasonID)
	w.u64(in.Sequence)
	w.boolean(in.WasCorrect)
	return nil
}

func (in *ResolvePrediction) decode(r *reader) (err error) {
	if in.AgentOwner, err = r.str(); err != nil {
		return err
	}
	if in.SeasonID, err = r.u64(); err != nil {
		return err
	}
	if in.Sequence, err = r.u64(); err != nil {
		return err
	}
	in.WasCorrect, err = r.boolean()
	return err
}

func (in AwardAchievement) encode(w *writer) error {
	if err := w.str(in.AgentOwner); err != nil {
		return err
	}
	code, err := in.AchievementType.Code()
	if err != nil {
		return err
	}
	w.u8(code)
	return nil
}

func (in *AwardAchievement) decode(r *reader) (err error) {
	if in.AgentOwner, err = r.str(); err != nil {
		return err
	}
	code, err := r.u8()
	if err != nil {
		return err
	}
	in.AchievementType, err = domain.AchievementTypeFromCode(code)
	return err
}

func (in DistributePrizes) encode(w *writer) error { w.u64(in.SeasonID); return nil }

func (in *DistributePrizes) decode(r *reader) (err error) {
	in.SeasonID, err = r.u64()
	return err
}

func (in CancelSeason) encode(w *writer) error { w.u64(in.SeasonID); return nil }

func (in *CancelSeason) decode(r *reader) (err error) {
	in.SeasonID, err = r.u64()
	return err
}

func (in WithdrawTreasury) encode(w *writer) error { w.u64(in.Amount); return nil }

func (in *WithdrawTreasury) decode(r *reader) (err error) {
	in.Amount, err = r.u64()
	return err
}

func (in FundTreasury) encode(w *writer) error { w.u64(in.Amount); return nil }

func (in *FundTreasury) decode(r *reader) (err error) {
	in.Amount, err = r.u64()
	return err
}

func (in Deposit) encode(w *writer) error {
	if err := w.str(in.Owner); err != nil {
		return err
	}
	w.u64(in.Amount)
	return nil
}

func (in *Deposit) decode(r *reader) (err error) {
	if in.Owner, err = r.str(); err != nil {
		return err
	}
	in.Amount, err = r.u64()
	return err
}

func (in ExpirePrediction) encode(w *writer) error {
	if err := w.str(in.AgentOwner); err != nil {
		return err
	}
	w.u64(in.SeasonID)
	w.u64(in.Sequence)
	return nil
}

func (in *ExpirePrediction) decode(r *reader) (err error) {
	if in.AgentOwner, err = r.str(); err != nil {
		return err
	}
	if in.SeasonID, err = r.u64(); err != nil {
		return err
	}
	in.Sequence, err = r.u64()
	return err
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *writer) bytes(b []byte) error {
	if uint64(len(b)) > math.MaxUint32 {
		return errors.New("field too long")
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(b)))
	w.raw(b)
	return nil
}

func (w *writer) str(s string) error { return w.bytes([]byte(s)) }

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid bool byte %d", v)
}

func (r *reader) bytes() ([]byte, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return nil, ErrTruncated
	}
	data, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}
