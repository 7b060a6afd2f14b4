// Command validator_stub imitates the external ticket validation workflow for local development.
// It accepts dispatches from the API and answers either inline or through the callback URL.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type dispatch struct {
	CorrelationID string `json:"correlationId"`
	CallbackURL   string `json:"callbackUrl"`
	Image         string `json:"image"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimetype"`
	Timestamp     string `json:"timestamp"`
	Source        string `json:"source"`
}

type verdict struct {
	CorrelationID string  `json:"correlationId"`
	Valid         bool    `json:"valid"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
}

type options struct {
	Mode        string
	Delay       time.Duration
	RejectEvery int
	Secret      string
	Token       string
}

type stub struct {
	opts     options
	client   *http.Client
	received atomic.Int64
	// deliver is swapped in tests to run callbacks synchronously.
	deliver func(url string, v verdict)
}

func main() {
	var (
		addr    string
		opts    options
		timeout time.Duration
	)

	flag.StringVar(&addr, "addr", ":9090", "listen address")
	flag.StringVar(&opts.Mode, "mode", "async", "async posts verdicts to the callback URL, sync answers inline")
	flag.DurationVar(&opts.Delay, "delay", 2*time.Second, "wait before posting an async verdict")
	flag.IntVar(&opts.RejectEvery, "reject-every", 0, "reject every Nth ticket (0 approves all)")
	flag.StringVar(&opts.Secret, "callback-secret", "", "value sent as X-Webhook-Secret on callbacks")
	flag.StringVar(&opts.Token, "token", "", "bearer token required on dispatches")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "callback HTTP timeout")
	flag.Parse()

	s := newStub(opts, &http.Client{Timeout: timeout})
	log.Printf("validator stub listening on %s (mode=%s)", addr, opts.Mode)
	if err := http.ListenAndServe(addr, s); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func newStub(opts options, client *http.Client) *stub {
	s := &stub{opts: opts, client: client}
	s.deliver = func(url string, v verdict) {
		time.Sleep(opts.Delay)
		if err := s.postCallback(url, v); err != nil {
			log.Printf("callback for %s failed: %v", v.CorrelationID, err)
		}
	}
	return s
}

func (s *stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var d dispatch
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if d.CorrelationID == "" || d.Image == "" {
		http.Error(w, "correlationId and image are required", http.StatusBadRequest)
		return
	}
	image, err := base64.StdEncoding.DecodeString(d.Image)
	if err != nil || len(image) == 0 {
		http.Error(w, "image must be base64", http.StatusBadRequest)
		return
	}

	v := s.decide(d)
	log.Printf("ticket %s (%s, %d bytes) -> valid=%t", d.CorrelationID, d.MimeType, len(image), v.Valid)

	w.Header().Set("Content-Type", "application/json")
	if strings.EqualFold(s.opts.Mode, "sync") || d.CallbackURL == "" {
		_ = json.NewEncoder(w).Encode(v)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "correlationId": d.CorrelationID})
	go s.deliver(d.CallbackURL, v)
}

func (s *stub) decide(d dispatch) verdict {
	n := s.received.Add(1)
	if s.opts.RejectEvery > 0 && n%int64(s.opts.RejectEvery) == 0 {
		return verdict{CorrelationID: d.CorrelationID, Valid: false, Reason: "ticket not legible", Confidence: 0.31}
	}
	return verdict{CorrelationID: d.CorrelationID, Valid: true, Reason: "ticket looks genuine", Confidence: 0.93}
}

func (s *stub) postCallback(url string, v verdict) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Secret != "" {
		req.Header.Set("X-Webhook-Secret", s.opts.Secret)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}
