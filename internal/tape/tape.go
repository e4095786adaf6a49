package tape

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dump-hedge-bot/internal/exchange"

	"github.com/vmihailenco/msgpack/v5"
)

// TickRecord is one observed ticker. Tapes are a plain concatenation of
// msgpack maps.
type TickRecord struct {
	MarketID  string  `msgpack:"m"`
	PriceUp   float64 `msgpack:"u"`
	PriceDown float64 `msgpack:"d"`
	UnixMS    int64   `msgpack:"t"`
}

func FromTicker(t exchange.Ticker, at time.Time) TickRecord {
	return TickRecord{
		MarketID:  t.MarketID,
		PriceUp:   t.PriceUp,
		PriceDown: t.PriceDown,
		UnixMS:    at.UnixMilli(),
	}
}

func (r TickRecord) Time() time.Time {
	return time.UnixMilli(r.UnixMS).UTC()
}

func (r TickRecord) Ticker() exchange.Ticker {
	return exchange.Ticker{
		MarketID:  r.MarketID,
		PriceUp:   r.PriceUp,
		PriceDown: r.PriceDown,
		Timestamp: r.Time(),
	}
}

func encodeRecord(enc *msgpack.Encoder, rec TickRecord) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString("m"); err != nil {
		return err
	}
	if err := enc.EncodeString(rec.MarketID); err != nil {
		return err
	}
	if err := enc.EncodeString("u"); err != nil {
		return err
	}
	if err := enc.EncodeFloat64(rec.PriceUp); err != nil {
		return err
	}
	if err := enc.EncodeString("d"); err != nil {
		return err
	}
	if err := enc.EncodeFloat64(rec.PriceDown); err != nil {
		return err
	}
	if err := enc.EncodeString("t"); err != nil {
		return err
	}
	return enc.EncodeInt(rec.UnixMS)
}

// Recorder appends tick records to a tape file.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *msgpack.Encoder
}

func NewRecorder(path string) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("tape path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &Recorder{file: f, buf: buf, enc: msgpack.NewEncoder(buf)}, nil
}

func (r *Recorder) Record(rec TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return errors.New("recorder closed")
	}
	return encodeRecord(r.enc, rec)
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil
	}
	return r.buf.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	flushErr := r.buf.Flush()
	closeErr := r.file.Close()
	r.file, r.buf, r.enc = nil, nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Reader streams records from a tape.
type Reader struct {
	dec    *msgpack.Decoder
	closer io.Closer
	n      int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: msgpack.NewDecoder(bufio.NewReader(r))}
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	reader := NewReader(f)
	reader.closer = f
	return reader, nil
}

// Next returns the next record or io.EOF at the end of the tape.
func (r *Reader) Next() (TickRecord, error) {
	var rec TickRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return TickRecord{}, io.EOF
		}
		return TickRecord{}, fmt.Errorf("tape record %d: %w", r.n, err)
	}
	r.n++
	return rec, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAll loads every record from the tape at path.
func ReadAll(path string) ([]TickRecord, error) {
	reader, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	var out []TickRecord
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
