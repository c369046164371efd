// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// Spinner animates a single in-progress line on stdout. One-shot: a
// stopped spinner cannot be restarted.
//
// At machine level the message prints once as a stable PROGRESS line
// and no animation runs.
type Spinner struct {
	mu      sync.Mutex
	message string
	frame   int
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner returns a spinner for the given message. Call Start to
// begin animating.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	if CurrentLevel() == PersonalityMachine {
		fmt.Printf("PROGRESS: %s\n", s.message)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.render()
}

func (s *Spinner) render() {
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			fmt.Print("\r\033[K")
			close(s.done)
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := spinnerFrames[s.frame%len(spinnerFrames)]
			s.frame++
			message := s.message
			s.mu.Unlock()
			fmt.Printf("\r%s %s", Styles.Highlight.Render(frame), message)
		}
	}
}

// Stop halts the animation and clears the line. Safe to call when the
// spinner never started.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

// StopWithSuccess stops the spinner and prints a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	Success(message)
}

// StopWithError stops the spinner and prints an error line.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	Error(message)
}

func (s *Spinner) setMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// WithSpinner runs fn under a spinner, reporting the outcome when it
// returns. The error from fn is passed through unchanged.
func WithSpinner(message string, fn func() error) error {
	spin := NewSpinner(message)
	spin.Start()

	if err := fn(); err != nil {
		spin.StopWithError(fmt.Sprintf("%s: %v", message, err))
		return err
	}
	spin.StopWithSuccess(message)
	return nil
}

// ProgressSpinner is a Spinner whose message tracks an n-of-total
// counter, for runs with a known number of steps.
type ProgressSpinner struct {
	*Spinner
	base    string
	current int
	total   int
	countMu sync.Mutex
}

// NewProgressSpinner returns a progress spinner over total steps.
func NewProgressSpinner(message string, total int) *ProgressSpinner {
	return &ProgressSpinner{
		Spinner: NewSpinner(message),
		base:    message,
		total:   total,
	}
}

// Increment advances the counter and refreshes the spinner line.
func (p *ProgressSpinner) Increment() {
	p.countMu.Lock()
	p.current++
	current := p.current
	p.countMu.Unlock()
	p.setMessage(fmt.Sprintf("%s [%d/%d]", p.base, current, p.total))
}
