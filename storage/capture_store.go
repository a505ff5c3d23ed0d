package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/colorfulnotion/replay/asm"
	"github.com/colorfulnotion/replay/log"
	"github.com/colorfulnotion/replay/replayerrors"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/slices"
)

var (
	capturePrefix  = []byte("capture/")
	resourcePrefix = []byte("resource/")
)

// CaptureID is the blake2b-256 hash of a capture's opcode stream followed by
// its constant data.
type CaptureID [32]byte

func (id CaptureID) String() string { return hex.EncodeToString(id[:]) }

// ParseCaptureID accepts the hex form produced by String, with or without a
// 0x prefix.
func ParseCaptureID(s string) (CaptureID, error) {
	var id CaptureID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("%w: bad capture id %q", replayerrors.ErrCCaptureNotFound, s)
	}
	copy(id[:], b)
	return id, nil
}

// Capture is everything a replay needs: the opcode stream, the constant
// segment, the initial volatile reservation and the resources RESOURCE reads.
type Capture struct {
	Name         string
	Instructions []uint32
	Constants    []byte
	VolatileSize uint32
	Resources    map[uint32][]byte
}

// ID computes the content address of c.
func (c *Capture) ID() CaptureID {
	h, _ := blake2b.New256(nil)
	h.Write(asm.EncodeWords(c.Instructions))
	h.Write(c.Constants)
	var id CaptureID
	copy(id[:], h.Sum(nil))
	return id
}

// CaptureInfo summarizes a stored capture.
type CaptureInfo struct {
	ID           CaptureID
	Name         string
	Instructions int
	Resources    int
}

type captureRecord struct {
	Name         string   `json:"name"`
	Stream       []byte   `json:"stream"`
	Constants    []byte   `json:"constants,omitempty"`
	VolatileSize uint32   `json:"volatileSize"`
	ResourceIDs  []uint32 `json:"resourceIds,omitempty"`
}

// CaptureStore persists captures in LevelDB.
type CaptureStore struct {
	ps *PersistenceStore
}

// NewCaptureStore opens the store at path; an empty path keeps it in memory.
func NewCaptureStore(path string) (*CaptureStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return &CaptureStore{ps: ps}, nil
}

func NewMemoryCaptureStore() (*CaptureStore, error) {
	return NewCaptureStore("")
}

func captureKey(id CaptureID) []byte {
	return append(slices.Clone(capturePrefix), id[:]...)
}

func captureResourcePrefix(id CaptureID) []byte {
	return append(slices.Clone(resourcePrefix), id[:]...)
}

func resourceKey(id CaptureID, rid uint32) []byte {
	return binary.BigEndian.AppendUint32(captureResourcePrefix(id), rid)
}

// PutCapture stores c and its resources in one batch and returns its id.
// Storing the same capture twice replaces the previous copy.
func (s *CaptureStore) PutCapture(c *Capture) (CaptureID, error) {
	id := c.ID()
	rec := captureRecord{
		Name:         c.Name,
		Stream:       asm.EncodeWords(c.Instructions),
		Constants:    c.Constants,
		VolatileSize: c.VolatileSize,
	}
	// resources left over from an earlier put of the same capture must go
	batch := new(leveldb.Batch)
	if err := s.ps.BatchDeletePrefix(batch, captureResourcePrefix(id)); err != nil {
		return id, err
	}
	for rid, data := range c.Resources {
		rec.ResourceIDs = append(rec.ResourceIDs, rid)
		batch.Put(resourceKey(id, rid), data)
	}
	slices.Sort(rec.ResourceIDs)
	value, err := json.Marshal(rec)
	if err != nil {
		return id, err
	}
	batch.Put(captureKey(id), value)
	if err := s.ps.Write(batch); err != nil {
		return id, fmt.Errorf("put capture %s: %w", id, err)
	}
	log.Debug(log.StorageMonitoring, "capture stored", "id", id, "name", c.Name,
		"instructions", len(c.Instructions), "resources", len(rec.ResourceIDs))
	return id, nil
}

func (s *CaptureStore) record(id CaptureID) (*captureRecord, error) {
	value, ok, err := s.ps.Get(captureKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", replayerrors.ErrCCaptureNotFound, id)
	}
	rec := new(captureRecord)
	if err := json.Unmarshal(value, rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", replayerrors.ErrCCorruptCapture, id, err)
	}
	return rec, nil
}

// GetCapture loads the capture stored under id, resources included.
func (s *CaptureStore) GetCapture(id CaptureID) (*Capture, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	words, err := asm.DecodeWords(rec.Stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", replayerrors.ErrCCorruptCapture, id, err)
	}
	c := &Capture{
		Name:         rec.Name,
		Instructions: words,
		Constants:    rec.Constants,
		VolatileSize: rec.VolatileSize,
		Resources:    make(map[uint32][]byte, len(rec.ResourceIDs)),
	}
	for _, rid := range rec.ResourceIDs {
		data, err := s.GetResource(id, rid)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", replayerrors.ErrCCorruptCapture, id, err)
		}
		c.Resources[rid] = data
	}
	return c, nil
}

// ListCaptures returns a summary of every stored capture in id order.
func (s *CaptureStore) ListCaptures() ([]CaptureInfo, error) {
	pairs, err := s.ps.GetWithPrefix(capturePrefix)
	if err != nil {
		return nil, err
	}
	infos := make([]CaptureInfo, 0, len(pairs))
	for _, kv := range pairs {
		var info CaptureInfo
		copy(info.ID[:], bytes.TrimPrefix(kv[0], capturePrefix))
		var rec captureRecord
		if err := json.Unmarshal(kv[1], &rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", replayerrors.ErrCCorruptCapture, info.ID, err)
		}
		info.Name = rec.Name
		info.Instructions = len(rec.Stream) / 4
		info.Resources = len(rec.ResourceIDs)
		infos = append(infos, info)
	}
	return infos, nil
}

// DeleteCapture removes a capture and its resources.
func (s *CaptureStore) DeleteCapture(id CaptureID) error {
	if _, err := s.record(id); err != nil {
		return err
	}
	if err := s.ps.DeletePrefix(captureResourcePrefix(id)); err != nil {
		return err
	}
	return s.ps.Delete(captureKey(id))
}

// PutResource adds or replaces one resource of an existing capture.
func (s *CaptureStore) PutResource(id CaptureID, rid uint32, data []byte) error {
	rec, err := s.record(id)
	if err != nil {
		return err
	}
	if _, found := slices.BinarySearch(rec.ResourceIDs, rid); !found {
		rec.ResourceIDs = append(rec.ResourceIDs, rid)
		slices.Sort(rec.ResourceIDs)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(resourceKey(id, rid), data)
	batch.Put(captureKey(id), value)
	return s.ps.Write(batch)
}

func (s *CaptureStore) GetResource(id CaptureID, rid uint32) ([]byte, error) {
	data, ok, err := s.ps.Get(resourceKey(id, rid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: capture %s resource %d", replayerrors.ErrCResourceNotFound, id, rid)
	}
	return data, nil
}

// Resources exposes the resources of one capture as a provider for the
// RESOURCE instruction.
func (s *CaptureStore) Resources(id CaptureID) *Resources {
	return &Resources{store: s, id: id}
}

type Resources struct {
	store *CaptureStore
	id    CaptureID
}

func (r *Resources) Resource(rid uint32) ([]byte, error) {
	return r.store.GetResource(r.id, rid)
}

func (s *CaptureStore) Close() error {
	return s.ps.Close()
}
