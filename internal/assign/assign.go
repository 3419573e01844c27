// Package assign tracks which recipient currently holds which number. A
// number has at most one holder; delivering its OTP clears the claim so the
// number frees up for the next person.
package assign

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is an in-memory recipient-to-number claim table.
type Registry struct {
	mu       sync.Mutex
	byHolder map[string]string // recipient -> number
	byNumber map[string]string // number -> recipient
}

// NewRegistry creates an empty claim registry.
func NewRegistry() *Registry {
	return &Registry{
		byHolder: make(map[string]string),
		byNumber: make(map[string]string),
	}
}

// Claim assigns a number to a holder. A holder claiming a new number
// releases their previous one. Fails when another holder already has the
// number.
func (r *Registry) Claim(holder, number string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, taken := r.byNumber[number]; taken && existing != holder {
		return false
	}

	if prev, had := r.byHolder[holder]; had && prev != number {
		delete(r.byNumber, prev)
	}

	r.byHolder[holder] = number
	r.byNumber[number] = holder
	log.Debug().Str("holder", holder).Str("number", number).Msg("Number claimed")
	return true
}

// Release drops the holder's claim, if any.
func (r *Registry) Release(holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if number, had := r.byHolder[holder]; had {
		delete(r.byHolder, holder)
		delete(r.byNumber, number)
		log.Debug().Str("holder", holder).Str("number", number).Msg("Claim released")
	}
}

// HolderOf returns the recipient holding a number, or "".
func (r *Registry) HolderOf(number string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byNumber[number]
}

// NumberOf returns the number a holder has claimed, or "".
func (r *Registry) NumberOf(holder string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byHolder[holder]
}

// ClearNumber drops whatever claim exists on a number. Called after the
// number's OTP has been delivered to its holder.
func (r *Registry) ClearNumber(number string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, taken := r.byNumber[number]; taken {
		delete(r.byNumber, number)
		delete(r.byHolder, holder)
		log.Debug().Str("holder", holder).Str("number", number).Msg("Claim cleared after delivery")
	}
}

// Count returns the number of active claims.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byNumber)
}
