// Package mock provides a test double for the auth.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    VerifyResult: &auth.Result{Status: auth.StatusVerified, ResponseText: "hi"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/facechat/pkg/provider/auth"
)

// Provider is a mock implementation of auth.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// VerifyResult is returned by Verify. Defaults to a verified result.
	VerifyResult *auth.Result

	// VerifyErr, if non-nil, is returned by Verify.
	VerifyErr error

	// VerifyErrs, when non-empty, supplies errors for successive Verify calls
	// before VerifyErr applies.
	VerifyErrs []error

	// RegisterResults are returned by successive Register calls; the last
	// one repeats. Defaults to a registered result.
	RegisterResults []*auth.Result

	// RegisterErr, if non-nil, is returned by Register.
	RegisterErr error

	// --- Recorded calls ---

	// VerifyCalls records every Verify request.
	VerifyCalls []auth.VerifyRequest

	// RegisterCalls records every Register request.
	RegisterCalls []auth.RegisterRequest
}

var _ auth.Provider = (*Provider)(nil)

// Verify implements auth.Provider.
func (p *Provider) Verify(_ context.Context, req auth.VerifyRequest) (*auth.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VerifyCalls = append(p.VerifyCalls, req)
	if len(p.VerifyErrs) > 0 {
		err := p.VerifyErrs[0]
		p.VerifyErrs = p.VerifyErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.VerifyErr != nil {
		return nil, p.VerifyErr
	}
	if p.VerifyResult != nil {
		return p.VerifyResult, nil
	}
	return &auth.Result{Status: auth.StatusVerified}, nil
}

// Register implements auth.Provider.
func (p *Provider) Register(_ context.Context, req auth.RegisterRequest) (*auth.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RegisterCalls = append(p.RegisterCalls, req)
	if p.RegisterErr != nil {
		return nil, p.RegisterErr
	}
	switch len(p.RegisterResults) {
	case 0:
		return &auth.Result{Status: auth.StatusRegistered}, nil
	case 1:
		return p.RegisterResults[0], nil
	default:
		res := p.RegisterResults[0]
		p.RegisterResults = p.RegisterResults[1:]
		return res, nil
	}
}

// Calls returns copies of the recorded Verify and Register requests.
func (p *Provider) Calls() ([]auth.VerifyRequest, []auth.RegisterRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auth.VerifyRequest(nil), p.VerifyCalls...),
		append([]auth.RegisterRequest(nil), p.RegisterCalls...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VerifyCalls = nil
	p.RegisterCalls = nil
}
