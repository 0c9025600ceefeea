package reference

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"sessiond/internal/engine"
)

// FileSuffix identifies reference model files.
const FileSuffix = ".ref.json"

// File is the on-disk format. Logit tables are keyed by token id in decimal;
// "start" applies when no token precedes the position. Vocab entries of the
// form "<0xAB>" are single-byte pieces; other "<...>" entries are special.
type File struct {
	Name            string                        `json:"name"`
	Architecture    string                        `json:"architecture"`
	ContextLength   int                           `json:"context_length"`
	Vocab           []string                      `json:"vocab"`
	EOS             int                           `json:"eos"`
	DefaultLogit    float32                       `json:"default_logit"`
	Start           map[string]float32            `json:"start"`
	Bigram          map[string]map[string]float32 `json:"bigram"`
	WeightsBytes    int64                         `json:"weights_bytes"`
	KVBytesPerToken int64                         `json:"kv_bytes_per_token"`
}

// Model is an immutable parsed reference model.
type Model struct {
	Name            string
	Architecture    string
	ContextLength   int
	EOS             int
	WeightsBytes    int64
	KVBytesPerToken int64

	pieces  [][]byte
	special []bool
	start   []float32
	bigram  map[int][]float32
	deflt   float32
	// byPiece indexes non-special pieces for tokenization.
	byPiece map[string]int
	maxLen  int
	byteTok [256]int
}

// Parse decodes a reference model from JSON.
func Parse(data []byte) (*Model, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(f.Vocab) == 0 {
		return nil, fmt.Errorf("empty vocab")
	}
	if f.EOS < 0 || f.EOS >= len(f.Vocab) {
		return nil, fmt.Errorf("eos %d out of range", f.EOS)
	}
	m := &Model{
		Name:            f.Name,
		Architecture:    f.Architecture,
		ContextLength:   f.ContextLength,
		EOS:             f.EOS,
		WeightsBytes:    f.WeightsBytes,
		KVBytesPerToken: f.KVBytesPerToken,
		pieces:          make([][]byte, len(f.Vocab)),
		special:         make([]bool, len(f.Vocab)),
		bigram:          make(map[int][]float32, len(f.Bigram)),
		deflt:           f.DefaultLogit,
		byPiece:         make(map[string]int, len(f.Vocab)),
	}
	if m.Architecture == "" {
		m.Architecture = "bigram"
	}
	for i := range m.byteTok {
		m.byteTok[i] = -1
	}
	for id, p := range f.Vocab {
		if b, ok := byteToken(p); ok {
			m.pieces[id] = []byte{b}
			if m.byteTok[b] < 0 {
				m.byteTok[b] = id
			}
			continue
		}
		if strings.HasPrefix(p, "<") && strings.HasSuffix(p, ">") && len(p) > 2 {
			m.special[id] = true
			continue
		}
		m.pieces[id] = []byte(p)
		if _, dup := m.byPiece[p]; !dup {
			m.byPiece[p] = id
		}
		if len(p) > m.maxLen {
			m.maxLen = len(p)
		}
	}
	var err error
	if m.start, err = m.table(f.Start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	for k, row := range f.Bigram {
		prev, err := m.tokenID(k)
		if err != nil {
			return nil, fmt.Errorf("bigram: %w", err)
		}
		if m.bigram[prev], err = m.table(row); err != nil {
			return nil, fmt.Errorf("bigram %d: %w", prev, err)
		}
	}
	return m, nil
}

func (m *Model) tokenID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 || id >= len(m.pieces) {
		return 0, fmt.Errorf("bad token id %q", s)
	}
	return id, nil
}

func (m *Model) table(src map[string]float32) ([]float32, error) {
	out := make([]float32, len(m.pieces))
	for i := range out {
		out[i] = m.deflt
	}
	for k, v := range src {
		id, err := m.tokenID(k)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// byteToken parses "<0xAB>" pieces.
func byteToken(p string) (byte, bool) {
	if len(p) != 6 || !strings.HasPrefix(p, "<0x") || p[5] != '>' {
		return 0, false
	}
	v, err := strconv.ParseUint(p[3:5], 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// VocabSize is the number of tokens.
func (m *Model) VocabSize() int { return len(m.pieces) }

// Piece returns the raw bytes of id.
func (m *Model) Piece(id int) []byte {
	if id < 0 || id >= len(m.pieces) {
		return nil
	}
	return m.pieces[id]
}

// Tokenize is greedy longest-match over the vocabulary with byte fallback.
func (m *Model) Tokenize(text string) ([]int, error) {
	var out []int
	b := []byte(text)
	for i := 0; i < len(b); {
		matched := false
		for l := min(m.maxLen, len(b)-i); l > 0; l-- {
			if id, ok := m.byPiece[string(b[i:i+l])]; ok {
				out = append(out, id)
				i += l
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		id := m.byteTok[b[i]]
		if id < 0 {
			return nil, fmt.Errorf("no token for byte 0x%02X at offset %d", b[i], i)
		}
		out = append(out, id)
		i++
	}
	return out, nil
}

// Logits returns a fresh logits vector for the position after prev, or the
// start distribution when prev is negative.
func (m *Model) Logits(prev int) []float32 {
	src := m.start
	if row, ok := m.bigram[prev]; ok && prev >= 0 {
		src = row
	}
	out := make([]float32, len(src))
	copy(out, src)
	return out
}

// MemoryFor estimates resident bytes for a context of n tokens.
func (m *Model) MemoryFor(n int) int64 {
	return m.WeightsBytes + m.KVBytesPerToken*int64(n)
}

// Write encodes f to path.
func (f File) Write(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var (
	cacheMu sync.Mutex
	cache   = map[string]cachedModel{}
)

type cachedModel struct {
	size  int64
	mtime int64
	model *Model
}

// LoadFile parses path, reusing a previous parse when the file is unchanged.
func LoadFile(path string) (*Model, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, engine.ModelLoadError{Path: path, Reason: "stat", Err: err}
	}
	if st.IsDir() {
		return nil, engine.ModelLoadError{Path: path, Reason: "is a directory"}
	}
	cacheMu.Lock()
	c, ok := cache[path]
	cacheMu.Unlock()
	if ok && c.size == st.Size() && c.mtime == st.ModTime().UnixNano() {
		return c.model, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.ModelLoadError{Path: path, Reason: "read", Err: err}
	}
	m, err := Parse(data)
	if err != nil {
		return nil, engine.ModelLoadError{Path: path, Reason: "corrupt model", Err: err}
	}
	cacheMu.Lock()
	cache[path] = cachedModel{size: st.Size(), mtime: st.ModTime().UnixNano(), model: m}
	cacheMu.Unlock()
	return m, nil
}
