// Package claims turns the session's ID token into the payload served by the
// identity endpoint.
package claims

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	bfferrors "github.com/jrsteele09/go-bff/internal/errors"
)

// Claims is the decoded ID token payload.
type Claims map[string]interface{}

// Clone returns a deep copy of the claims.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(Claims(t).Clone())
	case Claims:
		return t.Clone()
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// FromIDToken decodes the payload of a compact JWT. The signature is not
// checked here; ID tokens are verified when they are obtained.
func FromIDToken(idToken string) (Claims, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%w: empty id token", bfferrors.ErrClaimsTransform)
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, mc); err != nil {
		return nil, fmt.Errorf("%w: %w", bfferrors.ErrClaimsTransform, err)
	}
	return Claims(mc), nil
}

// Transformation shapes the claims returned to the browser.
type Transformation interface {
	Transform(ctx context.Context, in Claims) (Claims, error)
}

// Func adapts a function to Transformation.
type Func func(ctx context.Context, in Claims) (Claims, error)

func (f Func) Transform(ctx context.Context, in Claims) (Claims, error) {
	return f(ctx, in)
}

type passThrough struct{}

func (passThrough) Transform(_ context.Context, in Claims) (Claims, error) {
	return in.Clone(), nil
}

// Default returns the claims unchanged.
var Default Transformation = passThrough{}

// Chain applies transformations in order, feeding each the previous output.
type Chain []Transformation

func (c Chain) Transform(ctx context.Context, in Claims) (Claims, error) {
	out := in
	for _, t := range c {
		var err error
		if out, err = t.Transform(ctx, out.Clone()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Pipeline runs a Transformation over ID token claims.
type Pipeline struct {
	transformation Transformation
}

// NewPipeline creates a pipeline. A nil transformation means Default.
func NewPipeline(t Transformation) *Pipeline {
	if t == nil {
		t = Default
	}
	return &Pipeline{transformation: t}
}

// Run decodes idToken and transforms a private copy of its claims.
func (p *Pipeline) Run(ctx context.Context, idToken string) (Claims, error) {
	in, err := FromIDToken(idToken)
	if err != nil {
		return nil, err
	}
	out, err := p.transformation.Transform(ctx, in.Clone())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bfferrors.ErrClaimsTransform, err)
	}
	if out == nil {
		out = Claims{}
	}
	return out, nil
}
