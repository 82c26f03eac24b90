// Package mock provides a test double for the transcribe package
// interfaces.
//
// Use Provider to script transcription results per call and inspect which
// requests were submitted:
//
//	p := &mock.Provider{
//	    Results: []*transcribe.Result{{Text: "पानी"}},
//	}
//	res, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/dhvani-app/dhvani/pkg/provider/transcribe"
)

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Results are returned in order by successive Transcribe calls. Once
	// exhausted, the last result is repeated. If empty and Err is nil,
	// Transcribe returns an empty Result.
	Results []*transcribe.Result

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// Calls records every request passed to Transcribe.
	Calls []transcribe.Request

	calls int
}

// Name implements transcribe.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req transcribe.Request) (*transcribe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Results) == 0 {
		return &transcribe.Result{Provider: p.Name()}, nil
	}
	i := p.calls
	if i >= len(p.Results) {
		i = len(p.Results) - 1
	}
	p.calls++

	res := *p.Results[i]
	if res.Provider == "" {
		res.Provider = p.Name()
	}
	return &res, nil
}

// CallCount returns how many times Transcribe has been invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.calls = 0
}
