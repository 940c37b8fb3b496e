// Package prompt assembles the outgoing prompt for one exchange: system
// prompt plus as much recent transcript history as fits a token budget.
// Counting uses tiktoken when the encoding is available and falls back
// to a character estimate otherwise.
package prompt
