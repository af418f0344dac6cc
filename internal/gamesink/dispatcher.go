// Package gamesink implements the external HTTP sinks C5 forwards to:
// a fire-and-forget /game-over notification and a synchronous
// /process-order call-and-relay.
package gamesink

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopmaze/invoicecore/internal/config"
	"github.com/shopmaze/invoicecore/internal/coretypes"
)

// gameOverJob is one queued fire-and-forget delivery.
type gameOverJob struct {
	payload []byte
	attempt int
}

// Dispatcher sends game-over events to the external sink asynchronously via
// a background worker pool, and relays order payloads to the order sink
// synchronously.
type Dispatcher struct {
	httpClient      *http.Client
	gameOverURL     string
	processOrderURL string
	hmacSecret      string

	queue   chan *gameOverJob
	wg      sync.WaitGroup
}

// NewDispatcher builds a Dispatcher with a background worker pool for the
// game-over sink.
func NewDispatcher(cfg config.GameSinkConfig) *Dispatcher {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}

	d := &Dispatcher{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
		gameOverURL:     cfg.GameOverURL,
		processOrderURL: cfg.ProcessOrderURL,
		hmacSecret:      cfg.HMACSecret,
		queue:           make(chan *gameOverJob, 1000),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// EmitGameOver forwards payload to the external game-over sink, fire-and-forget.
func (d *Dispatcher) EmitGameOver(payload map[string]interface{}) {
	if d.gameOverURL == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("gamesink: failed to marshal game-over payload", "error", err)
		return
	}

	select {
	case d.queue <- &gameOverJob{payload: data, attempt: 1}:
	default:
		slog.Warn("gamesink: game-over queue full, dropping event")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliverGameOver(job)
	}
}

func (d *Dispatcher) deliverGameOver(job *gameOverJob) {
	req, err := http.NewRequest(http.MethodPost, d.gameOverURL, bytes.NewReader(job.payload))
	if err != nil {
		slog.Error("gamesink: failed to build game-over request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Invoicecore-Event-Type", "game_over")
	req.Header.Set("X-Invoicecore-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))
	if d.hmacSecret != "" {
		req.Header.Set("X-Invoicecore-Signature", "sha256="+signPayload(job.payload, d.hmacSecret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		slog.Warn("gamesink: game-over delivery failed", "url", d.gameOverURL, "error", err)
		if job.attempt < 3 {
			time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
			job.attempt++
			select {
			case d.queue <- job:
			default:
			}
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("gamesink: game-over sink returned error status", "status", resp.StatusCode)
	}
}

// ProcessOrder relays an order payload to the external order sink and
// returns its decoded JSON response. The caller (C5) relays it back to the
// client as order_response.
func (d *Dispatcher) ProcessOrder(orderPayload map[string]interface{}) (map[string]interface{}, error) {
	if d.processOrderURL == "" {
		return nil, fmt.Errorf("%w: no process-order sink configured", coretypes.ErrTransport)
	}

	data, err := json.Marshal(orderPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal order payload: %v", coretypes.ErrValidation, err)
	}

	req, err := http.NewRequest(http.MethodPost, d.processOrderURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build order request: %v", coretypes.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.hmacSecret != "" {
		req.Header.Set("X-Invoicecore-Signature", "sha256="+signPayload(data, d.hmacSecret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: order sink call: %v", coretypes.ErrTransport, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode order sink response: %v", coretypes.ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("%w: order sink returned status %d", coretypes.ErrTransport, resp.StatusCode)
	}

	return out, nil
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Shutdown drains the game-over worker pool.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
