// SPDX-License-Identifier: GPL-2.0-or-later

// Package ffmock fakes ffmpeg invocations.
package ffmock

import (
	"context"
	"errors"
)

// ErrMock returned by failing mocks.
var ErrMock = errors.New("mock")

// Piper records invocations and replies with canned output.
type Piper struct {
	// Output returns stdout for one invocation.
	Output func(stdin []byte, args []string) ([]byte, error)

	Unavailable bool

	Calls [][]string
	Stdin [][]byte
}

// Available implements ffmpeg.Piper.
func (p *Piper) Available() error {
	if p.Unavailable {
		return ErrMock
	}
	return nil
}

// Pipe implements ffmpeg.Piper.
func (p *Piper) Pipe(_ context.Context, stdin []byte, args ...string) ([]byte, error) {
	p.Calls = append(p.Calls, args)
	p.Stdin = append(p.Stdin, stdin)
	if p.Output == nil {
		return nil, ErrMock
	}
	return p.Output(stdin, args)
}
