// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tokenpool

import (
	"context"
	"testing"
	"time"
)

func TestNew_Empty(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err != ErrPoolExhausted {
		t.Errorf("New(nil) got err %v, want %v", err, ErrPoolExhausted)
	}
}

func TestPool_Acquire_MaxRemaining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := New([]string{"tok-a", "tok-b"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	if err := p.Update("tok-a", 10, time.Time{}); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}
	if err := p.Update("tok-b", 100, time.Time{}); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}

	got, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() unexpected err: %v", err)
	}
	if got.Token != "tok-b" {
		t.Errorf("Acquire() got token %q, want %q", got.Token, "tok-b")
	}
}

func TestPool_Acquire_TieBreakOldestLastUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := New([]string{"tok-a", "tok-b"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	if err := p.Update("tok-a", 50, time.Time{}); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}
	if err := p.Update("tok-b", 50, time.Time{}); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}

	// Acquire tok-a first so its LastUsed is set to "now", making tok-b the
	// older (zero-value) LastUsed and therefore the next pick.
	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() unexpected err: %v", err)
	}

	second, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() unexpected err: %v", err)
	}
	if first.Token == second.Token {
		t.Errorf("Acquire() returned the same token twice in a row: %q", first.Token)
	}
}

func TestPool_Acquire_OptimisticResetOnElapsedTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := New([]string{"tok-a"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if err := p.Update("tok-a", 0, past); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}

	got, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() unexpected err: %v", err)
	}
	if got.Remaining <= 0 {
		t.Errorf("Acquire() got Remaining %d, want > 0 after optimistic reset", got.Remaining)
	}
}

func TestPool_Acquire_BlocksUntilReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := New([]string{"tok-a"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	pollInterval = 10 * time.Millisecond
	reset := time.Now().Add(30 * time.Millisecond)
	if err := p.Update("tok-a", 0, reset); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}

	start := time.Now()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() unexpected err: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Acquire() returned after %s, want to block until reset", elapsed)
	}
}

func TestPool_Acquire_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p, err := New([]string{"tok-a"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	if err := p.Update("tok-a", 0, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Update() unexpected err: %v", err)
	}
	cancel()

	if _, err := p.Acquire(ctx); err == nil {
		t.Errorf("Acquire() got nil err, want context canceled")
	}
}

func TestPool_Update_UnknownToken(t *testing.T) {
	t.Parallel()

	p, err := New([]string{"tok-a"})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}
	if err := p.Update("does-not-exist", 1, time.Time{}); err == nil {
		t.Errorf("Update() got nil err, want error for unknown token")
	}
}
