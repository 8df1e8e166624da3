// Package identity derives anonymous exam identities and builds the
// anonymized submission payloads that are handed to the ledger.
//
// The chain is UID -> UID_HASH -> FINAL_HASH. The UID is random, never
// derived from the wallet, and never leaves the device; only FINAL_HASH is
// written to the ledger.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fairtest/fairtest/internal/hashchain"
	"github.com/fairtest/fairtest/internal/model"
)

var (
	// ErrEntropyUnavailable means no random bytes could be read. Fatal.
	ErrEntropyUnavailable = errors.New("entropy source unavailable")
	// ErrInvalidIdentity means a payload was requested for a malformed identity.
	ErrInvalidIdentity = errors.New("invalid exam identity")
	// ErrStorageUnavailable means the identity could not be persisted locally.
	// The identity is still usable but results cannot be recovered later.
	ErrStorageUnavailable = errors.New("local identity storage unavailable")
)

const (
	uidBytes  = 32
	saltBytes = 16

	storageKeyPrefix = "fairtest_uid_"
)

// Store is the device-local key/value store identities are persisted in.
type Store interface {
	Put(key string, value []byte) error
	// Get returns ok=false on a miss.
	Get(key string) (value []byte, ok bool, err error)
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() ([]string, error)
}

// Manager derives identities and payloads. The zero value is not usable;
// construct with New.
type Manager struct {
	hasher  hashchain.Hasher
	entropy io.Reader
	store   Store
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEntropy replaces crypto/rand as the random byte source.
func WithEntropy(r io.Reader) Option {
	return func(m *Manager) { m.entropy = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. A nil hasher selects SHA-256; a nil store makes
// every identity ephemeral.
func New(h hashchain.Hasher, store Store, opts ...Option) *Manager {
	if h == nil {
		h = hashchain.Default()
	}
	m := &Manager{
		hasher:  h,
		entropy: rand.Reader,
		store:   store,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Hasher returns the digest used for the identity chain.
func (m *Manager) Hasher() hashchain.Hasher {
	return m.hasher
}

// GenerateExamIdentity creates a fresh identity for wallet on examID. Two
// calls for the same pair never share a UID.
func (m *Manager) GenerateExamIdentity(walletAddress, examID string) (model.ExamIdentity, error) {
	random, err := m.randomHex(uidBytes)
	if err != nil {
		return model.ExamIdentity{}, err
	}
	salt, err := m.randomHex(saltBytes)
	if err != nil {
		return model.ExamIdentity{}, err
	}
	ts := m.now().UnixMilli()

	uid := hashchain.HashString(m.hasher, random+strconv.FormatInt(ts, 10)+salt)
	uidHash := hashchain.HashString(m.hasher, uid)
	finalHash := hashchain.HashString(m.hasher, uidHash)

	slog.Debug("exam identity generated",
		"exam_id", examID,
		"uid", short(uid),
		"uid_hash", short(uidHash),
		"final_hash", short(finalHash),
	)

	return model.ExamIdentity{
		UID:           uid,
		UIDHash:       uidHash,
		FinalHash:     finalHash,
		ExamID:        examID,
		WalletAddress: walletAddress,
		Timestamp:     ts,
		Salt:          salt,
	}, nil
}

func (m *Manager) randomHex(n int) (string, error) {
	if m.entropy == nil {
		return "", ErrEntropyUnavailable
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(m.entropy, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return hex.EncodeToString(buf), nil
}

// storedIdentity is the record kept in the local store. Owner binds the
// record to the wallet that created it without revealing that wallet: it is
// a digest over the UID, which itself never leaves the device.
type storedIdentity struct {
	model.ExamIdentity
	Owner string `json:"owner,omitempty"`
}

func (m *Manager) ownerTag(uid, wallet string) string {
	return hashchain.HashString(m.hasher, uid+"|"+strings.ToLower(strings.TrimSpace(wallet)))
}

// StoreUIDLocally persists the recoverable part of id, keyed by its exam.
// The wallet address and salt are never written. A previous identity for
// the same exam is overwritten.
func (m *Manager) StoreUIDLocally(id model.ExamIdentity) error {
	if m.store == nil {
		return fmt.Errorf("%w: no store configured", ErrStorageUnavailable)
	}
	rec := storedIdentity{ExamIdentity: id}
	if id.WalletAddress != "" {
		rec.Owner = m.ownerTag(id.UID, id.WalletAddress)
	}
	// ExamIdentity's JSON form already omits the wallet and the salt.
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode identity: %v", ErrStorageUnavailable, err)
	}
	if err := m.store.Put(storageKey(id.ExamID), data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	slog.Debug("exam identity stored locally", "exam_id", id.ExamID)
	return nil
}

// RecoverUID returns the identity stored for examID, or nil if none.
func (m *Manager) RecoverUID(examID string) (*model.ExamIdentity, error) {
	rec, err := m.load(examID)
	if err != nil || rec == nil {
		return nil, err
	}
	slog.Debug("exam identity recovered", "exam_id", examID, "final_hash", short(rec.FinalHash))
	return &rec.ExamIdentity, nil
}

// RecoverUIDFor is RecoverUID restricted to identities created for wallet.
// An identity stored by another wallet, or without an owner, is reported
// as a miss.
func (m *Manager) RecoverUIDFor(examID, wallet string) (*model.ExamIdentity, error) {
	rec, err := m.load(examID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Owner == "" || rec.Owner != m.ownerTag(rec.UID, wallet) {
		slog.Debug("stored exam identity belongs to another wallet", "exam_id", examID)
		return nil, nil
	}
	return &rec.ExamIdentity, nil
}

func (m *Manager) load(examID string) (*storedIdentity, error) {
	if m.store == nil {
		return nil, nil
	}
	data, ok, err := m.store.Get(storageKey(examID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, nil
	}
	var rec storedIdentity
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode stored identity for %s: %w", examID, err)
	}
	return &rec, nil
}

// RecoverAll returns every identity held in the local store. Stores that
// cannot enumerate their keys yield nothing.
func (m *Manager) RecoverAll() ([]model.ExamIdentity, error) {
	lister, ok := m.store.(Lister)
	if !ok {
		return nil, nil
	}
	keys, err := lister.Keys()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var ids []model.ExamIdentity
	for _, k := range keys {
		examID, found := strings.CutPrefix(k, storageKeyPrefix)
		if !found {
			continue
		}
		id, err := m.RecoverUID(examID)
		if err != nil {
			return nil, err
		}
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids, nil
}

// ForDevice returns a Manager whose local store is private to device. Keys
// written through it are invisible to the parent Manager and to every other
// device sharing the same underlying store.
func (m *Manager) ForDevice(device string) *Manager {
	c := *m
	if m.store != nil {
		c.store = Scoped(m.store, hashchain.HashString(m.hasher, "device|"+device))
	}
	return &c
}

// CreateSubmissionPayload builds the anonymized payload for answers. Only
// the FINAL_HASH of id is used; extra data on answers never reaches the
// payload itself, only its digest.
func (m *Manager) CreateSubmissionPayload(id model.ExamIdentity, examID string, answers model.Answers) (model.SubmissionPayload, error) {
	if id.FinalHash == "" {
		return model.SubmissionPayload{}, fmt.Errorf("%w: missing finalHash", ErrInvalidIdentity)
	}
	if !hashchain.IsDigest(id.FinalHash) {
		return model.SubmissionPayload{}, fmt.Errorf("%w: finalHash is not a hex digest", ErrInvalidIdentity)
	}
	answerHash, err := m.AnswerHash(answers)
	if err != nil {
		return model.SubmissionPayload{}, err
	}
	return model.SubmissionPayload{
		FinalHash:  id.FinalHash,
		ExamID:     examID,
		AnswerHash: answerHash,
		Timestamp:  m.now().UnixMilli(),
	}, nil
}

// AnswerHash returns the digest of the canonical JSON encoding of answers.
// encoding/json sorts map keys, so equal answer sheets hash equally.
func (m *Manager) AnswerHash(answers model.Answers) (string, error) {
	if answers == nil {
		answers = model.Answers{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return m.hasher.Hash(data), nil
}

func storageKey(examID string) string {
	return storageKeyPrefix + examID
}

func short(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
