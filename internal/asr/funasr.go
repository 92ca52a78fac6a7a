package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/internal/audio"

	"github.com/coder/websocket"
)

// FunASRRecognizer streams segments to a FunASR runtime server using its
// "online" websocket protocol. Every segment gets its own connection, which
// is opened lazily by the first chunk and closed by the final one.
type FunASRRecognizer struct {
	url        string
	sampleRate int
	timeout    time.Duration
	// finalGrace is how long the server may stay quiet after end of speech
	// before the segment counts as finished. The runtime sends no final
	// message when the last chunk carried no text.
	finalGrace time.Duration
}

const defaultFinalGrace = 1500 * time.Millisecond

// NewFunASRRecognizer returns a recognizer for the server at url
// (ws:// or wss://).
func NewFunASRRecognizer(url string, sampleRate int, timeout time.Duration) (*FunASRRecognizer, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("funasr: url must be ws:// or wss:// (got %q)", url)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FunASRRecognizer{url: url, sampleRate: sampleRate, timeout: timeout, finalGrace: defaultFinalGrace}, nil
}

// WithFinalGrace sets the quiet period that ends a segment when the server
// never marks a result final. Non-positive values keep the default.
func (r *FunASRRecognizer) WithFinalGrace(d time.Duration) *FunASRRecognizer {
	if d > 0 {
		r.finalGrace = d
	}
	return r
}

// Ping dials the server once and closes the connection.
func (r *FunASRRecognizer) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("funasr: dial %s: %w", r.url, err)
	}
	return conn.Close(websocket.StatusNormalClosure, "ping")
}

type funasrHandshake struct {
	Mode                 string `json:"mode"`
	ChunkSize            []int  `json:"chunk_size"`
	ChunkInterval        int    `json:"chunk_interval"`
	EncoderChunkLookBack int    `json:"encoder_chunk_look_back"`
	DecoderChunkLookBack int    `json:"decoder_chunk_look_back"`
	AudioFS              int    `json:"audio_fs"`
	WavName              string `json:"wav_name"`
	IsSpeaking           bool   `json:"is_speaking"`
}

type funasrResult struct {
	Mode    string `json:"mode"`
	Text    string `json:"text"`
	WavName string `json:"wav_name"`
	IsFinal bool   `json:"is_final"`
}

// funasrState is one segment's connection plus the results its reader has
// collected so far.
type funasrState struct {
	conn    *websocket.Conn
	results chan funasrResult
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (r *FunASRRecognizer) NewState() State { return &funasrState{} }

func (r *FunASRRecognizer) Recognize(chunk []float32, st State, final bool, p StreamParams) (string, error) {
	fs, ok := st.(*funasrState)
	if !ok {
		return "", fmt.Errorf("funasr: foreign state %T", st)
	}
	if fs.conn == nil {
		if len(chunk) == 0 && final {
			return "", nil
		}
		if err := r.open(fs, p); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if len(chunk) > 0 {
		if err := fs.conn.Write(ctx, websocket.MessageBinary, audio.ToPCM16LE(chunk)); err != nil {
			fs.Close()
			return "", fmt.Errorf("funasr: send audio: %w", err)
		}
	}
	if !final {
		return fs.drain(), nil
	}

	if err := fs.conn.Write(ctx, websocket.MessageText, []byte(`{"is_speaking":false}`)); err != nil {
		fs.Close()
		return "", fmt.Errorf("funasr: end of speech: %w", err)
	}
	text, err := fs.awaitFinal(ctx, min(r.finalGrace, r.timeout))
	fs.Close()
	return text, err
}

func (r *FunASRRecognizer) open(fs *funasrState, p StreamParams) error {
	dialCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, r.url, nil)
	if err != nil {
		return fmt.Errorf("funasr: dial %s: %w", r.url, err)
	}
	hs, err := json.Marshal(funasrHandshake{
		Mode:                 "online",
		ChunkSize:            p.Shape[:],
		ChunkInterval:        10,
		EncoderChunkLookBack: p.EncoderLookBack,
		DecoderChunkLookBack: p.DecoderLookBack,
		AudioFS:              r.sampleRate,
		WavName:              "parley",
		IsSpeaking:           true,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode handshake")
		return err
	}
	if err := conn.Write(dialCtx, websocket.MessageText, hs); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake")
		return fmt.Errorf("funasr: handshake: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	fs.conn = conn
	fs.results = make(chan funasrResult, 64)
	fs.cancel = readCancel
	fs.wg.Add(1)
	go fs.readLoop(readCtx)
	return nil
}

func (fs *funasrState) readLoop(ctx context.Context) {
	defer fs.wg.Done()
	defer close(fs.results)
	for {
		typ, data, err := fs.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var res funasrResult
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		select {
		case fs.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// drain collects whatever text has arrived without waiting.
func (fs *funasrState) drain() string {
	var b strings.Builder
	for {
		select {
		case res, ok := <-fs.results:
			if !ok {
				return b.String()
			}
			b.WriteString(res.Text)
		default:
			return b.String()
		}
	}
}

// awaitFinal collects text until the server marks the segment final, the
// connection drops, or nothing arrives for quiet. Only ctx expiring is an
// error; the text collected so far is returned either way.
func (fs *funasrState) awaitFinal(ctx context.Context, quiet time.Duration) (string, error) {
	var b strings.Builder
	idle := time.NewTimer(quiet)
	defer idle.Stop()
	for {
		select {
		case res, ok := <-fs.results:
			if !ok {
				return b.String(), nil
			}
			b.WriteString(res.Text)
			if res.IsFinal {
				return b.String(), nil
			}
			idle.Reset(quiet)
		case <-idle.C:
			return b.String(), nil
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return b.String(), fmt.Errorf("funasr: timed out waiting for final result")
			}
			return b.String(), ctx.Err()
		}
	}
}

// Close drops the segment connection. The state can be reused afterwards;
// the next chunk dials again.
func (fs *funasrState) Close() error {
	if fs.conn == nil {
		return nil
	}
	err := fs.conn.Close(websocket.StatusNormalClosure, "segment closed")
	fs.cancel()
	fs.wg.Wait()
	fs.conn, fs.results, fs.cancel = nil, nil, nil
	return err
}
